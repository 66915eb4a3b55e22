package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config is the top-level clack configuration.
type Config struct {
	DataDir      string             `json:"data_dir"`
	Repositories []RepositoryConfig `json:"repositories"`
	Changes      ChangesConfig      `json:"changes"`
	GitHub       GitHubAppConfig    `json:"github"`
	Server       ServerConfig       `json:"server"`
}

// MergeStrategy selects how a pull request is merged.
type MergeStrategy string

const (
	MergeSquash MergeStrategy = "squash"
	MergeMerge  MergeStrategy = "merge"
	MergeRebase MergeStrategy = "rebase"
)

// RepositoryConfig defines a repository the assistant can answer questions
// about and, when SupportsChanges is set, implement changes in.
type RepositoryConfig struct {
	Name                    string        `json:"name"`
	URL                     string        `json:"url"`
	Description             string        `json:"description"`
	DefaultBranch           string        `json:"default_branch,omitempty"`
	SupportsChanges         bool          `json:"supports_changes,omitempty"`
	PullRequestInstructions string        `json:"pull_request_instructions,omitempty"`
	MergeStrategy           MergeStrategy `json:"merge_strategy,omitempty"`
}

// Base returns the repository's default branch, falling back to "main".
func (r RepositoryConfig) Base() string {
	if r.DefaultBranch != "" {
		return r.DefaultBranch
	}
	return "main"
}

// Strategy returns the configured merge strategy, defaulting to squash.
func (r RepositoryConfig) Strategy() MergeStrategy {
	switch r.MergeStrategy {
	case MergeMerge, MergeRebase, MergeSquash:
		return r.MergeStrategy
	}
	return MergeSquash
}

// ChangesConfig controls the change-request workflow.
type ChangesConfig struct {
	Enabled                   bool     `json:"enabled"`
	MaxConcurrent             int      `json:"max_concurrent"`
	TimeoutMinutes            int      `json:"timeout_minutes"`
	SessionExpiryHours        int      `json:"session_expiry_hours"`
	MonitoringIntervalMinutes int      `json:"monitoring_interval_minutes"`
	AdditionalAllowedTools    []string `json:"additional_allowed_tools,omitempty"`
	PRInstructions            string   `json:"pr_instructions,omitempty"`
}

// Timeout returns the agent execution timeout as a duration.
func (c ChangesConfig) Timeout() time.Duration {
	if c.TimeoutMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SessionExpiry returns the idle-session expiry window.
func (c ChangesConfig) SessionExpiry() time.Duration {
	if c.SessionExpiryHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.SessionExpiryHours) * time.Hour
}

// MonitoringInterval returns the completion-monitor poll interval.
// Zero disables the monitor.
func (c ChangesConfig) MonitoringInterval() time.Duration {
	if c.MonitoringIntervalMinutes < 0 {
		return 0
	}
	return time.Duration(c.MonitoringIntervalMinutes) * time.Minute
}

// GitHubAppConfig identifies the GitHub App used to mint short-lived
// installation tokens. The private key lives outside the config file.
type GitHubAppConfig struct {
	AppID           string `json:"app_id" yaml:"appId"`
	InstallationID  string `json:"installation_id" yaml:"installationId"`
	PrivateKeyPath  string `json:"private_key_path" yaml:"privateKeyPath"`
	CredentialsFile string `json:"credentials_file,omitempty" yaml:"-"`
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	Port int `json:"port"`
}

// RepositoriesDir returns the directory holding the shared main clones.
func (c *Config) RepositoriesDir() string {
	return filepath.Join(c.DataDir, "repositories")
}

// WorktreesDir returns the directory holding per-branch worktrees.
func (c *Config) WorktreesDir() string {
	return filepath.Join(c.DataDir, "worktrees")
}

// SessionsDir returns the directory holding durable session folders.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "worktree-sessions")
}

// TemplatesDir returns the directory holding shared templates
// (e.g. the fallback PR template).
func (c *Config) TemplatesDir() string {
	return filepath.Join(c.DataDir, "templates")
}

// FindRepoByName resolves a repository by exact case-insensitive name
// match, or nil.
func (c *Config) FindRepoByName(name string) *RepositoryConfig {
	for i := range c.Repositories {
		if strings.EqualFold(c.Repositories[i].Name, name) {
			return &c.Repositories[i]
		}
	}
	return nil
}

// ChangeEnabledRepos returns the repositories that support the changes workflow.
func (c *Config) ChangeEnabledRepos() []RepositoryConfig {
	var out []RepositoryConfig
	for _, r := range c.Repositories {
		if r.SupportsChanges {
			out = append(out, r)
		}
	}
	return out
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Changes: ChangesConfig{
			Enabled:                   true,
			MaxConcurrent:             3,
			TimeoutMinutes:            10,
			SessionExpiryHours:        24,
			MonitoringIntervalMinutes: 15,
		},
		Server: ServerConfig{
			Port: 4180,
		},
	}
}
