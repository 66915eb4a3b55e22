package changes

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/clackhq/clack/internal/config"
)

// prTemplatePaths are checked inside the worktree, in order.
var prTemplatePaths = []string{
	".github/PULL_REQUEST_TEMPLATE.md",
	".github/pull_request_template.md",
	"docs/PULL_REQUEST_TEMPLATE.md",
}

// ResolvePRTemplate returns the PR body template for a worktree:
// repository templates first, then the shared templates directory, then
// the built-in fallback.
func ResolvePRTemplate(cfg *config.Config, worktreePath string) string {
	for _, rel := range prTemplatePaths {
		path := filepath.Join(worktreePath, rel)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data)
		}
		if !os.IsNotExist(err) {
			slog.Warn("failed to read PR template", "path", path, "error", err)
		}
	}

	shared := filepath.Join(cfg.TemplatesDir(), "pr-template.md")
	if data, err := os.ReadFile(shared); err == nil {
		return string(data)
	}

	return defaultPRTemplate
}

// ResolvePRInstructions returns repo-specific PR guidelines: an
// instructions file named in the repo config when present, otherwise the
// global workflow setting.
func ResolvePRInstructions(cfg *config.Config, worktreePath string, repo *config.RepositoryConfig) string {
	if repo != nil && repo.PullRequestInstructions != "" {
		path := filepath.Join(worktreePath, repo.PullRequestInstructions)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data)
		}
		if !os.IsNotExist(err) {
			slog.Warn("failed to read PR instructions", "path", path, "error", err)
		}
	}
	return cfg.Changes.PRInstructions
}
