package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Load reads and merges configuration from clack.jsonc files.
// Resolution order: defaults → user config (~/.config/clack/clack.jsonc) →
// working-directory config (./clack.jsonc) → environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if userDir, err := os.UserConfigDir(); err == nil {
		userPath := filepath.Join(userDir, "clack", "clack.jsonc")
		if userMap, err := loadJSONC(userPath); err == nil {
			if err := mergeIntoConfig(cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	if localMap, err := loadJSONC("clack.jsonc"); err == nil {
		if err := mergeIntoConfig(cfg, localMap); err != nil {
			return nil, fmt.Errorf("merging local config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := loadGitHubCredentials(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map
// over it, then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if dir := os.Getenv("CLACK_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if appID := os.Getenv("GITHUB_APP_ID"); appID != "" {
		cfg.GitHub.AppID = appID
	}
	if instID := os.Getenv("GITHUB_INSTALLATION_ID"); instID != "" {
		cfg.GitHub.InstallationID = instID
	}
	if keyPath := os.Getenv("GITHUB_PRIVATE_KEY_PATH"); keyPath != "" {
		cfg.GitHub.PrivateKeyPath = keyPath
	}
}

// loadGitHubCredentials merges the GitHub App credentials file, when present,
// into cfg. The file lives under <data>/auth/github.yaml so deployments can
// mount secrets separately from the main config.
func loadGitHubCredentials(cfg *Config) error {
	path := cfg.GitHub.CredentialsFile
	if path == "" {
		path = filepath.Join(cfg.DataDir, "auth", "github.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading GitHub credentials file: %w", err)
	}

	var creds GitHubAppConfig
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parsing GitHub credentials file %s: %w", path, err)
	}

	if creds.AppID != "" {
		cfg.GitHub.AppID = creds.AppID
	}
	if creds.InstallationID != "" {
		cfg.GitHub.InstallationID = creds.InstallationID
	}
	if creds.PrivateKeyPath != "" {
		cfg.GitHub.PrivateKeyPath = creds.PrivateKeyPath
	}
	return nil
}
