// Package worktree manages the shared main clones and per-change git
// worktrees under the data directory. All git access shells out to the
// git client with freshly minted credentials on the remote.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/gitauth"
	"github.com/clackhq/clack/internal/session"
)

// ErrWorktreeExists indicates the target worktree path is already on
// disk; callers decide reuse vs. create via Get first.
var ErrWorktreeExists = errors.New("worktree already exists")

// Info describes one worktree on disk.
type Info struct {
	RepoName string
	Branch   string
	Path     string
}

// Manager creates and removes worktrees for change sessions.
type Manager struct {
	cfg    *config.Config
	tokens gitauth.TokenProvider
}

// NewManager returns a Manager using tokens for remote authentication.
func NewManager(cfg *config.Config, tokens gitauth.TokenProvider) *Manager {
	return &Manager{cfg: cfg, tokens: tokens}
}

// cloneDir is the shared main clone for a repository.
func (m *Manager) cloneDir(repo *config.RepositoryConfig) string {
	return filepath.Join(m.cfg.RepositoriesDir(), repo.Name)
}

// Path computes the deterministic worktree location for (repo, branch).
func (m *Manager) Path(repoName, branch string) string {
	return filepath.Join(m.cfg.WorktreesDir(), repoName, session.SanitizeBranch(branch))
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// setAuthenticatedRemote points origin at an authenticated clone URL with
// a freshly minted token. Tokens are short-lived, so this runs before
// every network operation rather than once at clone time.
func (m *Manager) setAuthenticatedRemote(ctx context.Context, dir string, repo *config.RepositoryConfig) error {
	url, err := gitauth.CloneURL(ctx, m.tokens, repo.URL)
	if err != nil {
		return fmt.Errorf("building authenticated remote URL: %w", err)
	}
	if _, err := m.git(ctx, dir, "remote", "set-url", "origin", url); err != nil {
		return fmt.Errorf("setting origin URL: %w", err)
	}
	return nil
}

// Initialize ensures a main clone exists for every change-enabled
// repository, cloning any that are missing.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.WorktreesDir(), 0o755); err != nil {
		return fmt.Errorf("creating worktrees directory: %w", err)
	}
	for i := range m.cfg.Repositories {
		repo := &m.cfg.Repositories[i]
		if !repo.SupportsChanges {
			continue
		}
		dir := m.cloneDir(repo)
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			continue
		}
		slog.Info("cloning repository", "repo", repo.Name)
		url, err := gitauth.CloneURL(ctx, m.tokens, repo.URL)
		if err != nil {
			return fmt.Errorf("repo %s: %w", repo.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("creating repositories directory: %w", err)
		}
		if _, err := m.git(ctx, "", "clone", url, dir); err != nil {
			return fmt.Errorf("cloning %s: %w", repo.Name, err)
		}
	}
	return nil
}

// Get returns the existing worktree for (repo, branch), or nil when none
// is on disk.
func (m *Manager) Get(repoName, branch string) *Info {
	path := m.Path(repoName, branch)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return &Info{RepoName: repoName, Branch: branch, Path: path}
}

// Create makes a fresh worktree and branch from origin/<default>. The
// main clone must already exist. Fails with ErrWorktreeExists when the
// target path is occupied.
func (m *Manager) Create(ctx context.Context, repo *config.RepositoryConfig, branch string) (*Info, error) {
	clone := m.cloneDir(repo)
	if _, err := os.Stat(filepath.Join(clone, ".git")); err != nil {
		return nil, fmt.Errorf("main clone for %s missing at %s: %w", repo.Name, clone, err)
	}

	path := m.Path(repo.Name, branch)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w at %s", ErrWorktreeExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree parent: %w", err)
	}

	if err := m.setAuthenticatedRemote(ctx, clone, repo); err != nil {
		return nil, err
	}
	// Fetch is best-effort: stale local refs still allow branch creation.
	if out, err := m.git(ctx, clone, "fetch", "origin", "--prune"); err != nil {
		slog.Warn("fetch failed, continuing with local refs", "repo", repo.Name, "output", strings.TrimSpace(out))
	}

	// A leftover local branch from an aborted attempt blocks worktree add.
	if _, err := m.git(ctx, clone, "rev-parse", "--verify", "refs/heads/"+branch); err == nil {
		slog.Debug("force-deleting leftover local branch", "repo", repo.Name, "branch", branch)
		if _, err := m.git(ctx, clone, "branch", "-D", branch); err != nil {
			return nil, fmt.Errorf("deleting leftover branch %s: %w", branch, err)
		}
	}

	base := "origin/" + repo.Base()
	if _, err := m.git(ctx, clone, "worktree", "add", "-b", branch, path, base); err != nil {
		return nil, fmt.Errorf("creating worktree for %s from %s: %w", branch, base, err)
	}

	// The worktree pushes through its own remote config later.
	if err := m.setAuthenticatedRemote(ctx, path, repo); err != nil {
		m.Remove(ctx, repo, branch)
		return nil, err
	}

	slog.Info("created worktree", "repo", repo.Name, "branch", branch, "path", path)
	return &Info{RepoName: repo.Name, Branch: branch, Path: path}, nil
}

// Remove deletes a worktree. When git refuses (manual deletion or a
// crash can desync its bookkeeping from disk), falls back to removing
// the directory and pruning.
func (m *Manager) Remove(ctx context.Context, repo *config.RepositoryConfig, branch string) error {
	clone := m.cloneDir(repo)
	path := m.Path(repo.Name, branch)

	if _, err := m.git(ctx, clone, "worktree", "remove", "--force", path); err != nil {
		slog.Warn("git worktree remove failed, deleting directly", "path", path, "error", err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("removing worktree directory %s: %w", path, rmErr)
		}
		if _, pruneErr := m.git(ctx, clone, "worktree", "prune"); pruneErr != nil {
			slog.Warn("worktree prune failed", "repo", repo.Name, "error", pruneErr)
		}
	}
	return nil
}

// Push re-authenticates the worktree's remote and pushes its branch,
// setting upstream. Called before PR creation and after follow-up
// executions add commits.
func (m *Manager) Push(ctx context.Context, repo *config.RepositoryConfig, branch string) error {
	path := m.Path(repo.Name, branch)
	if err := m.setAuthenticatedRemote(ctx, path, repo); err != nil {
		return err
	}
	if _, err := m.git(ctx, path, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("pushing %s: %w", branch, err)
	}
	return nil
}

// DeleteBranch removes the local branch and, when requested, the remote
// one. Both deletions are best-effort.
func (m *Manager) DeleteBranch(ctx context.Context, repo *config.RepositoryConfig, branch string, deleteRemote bool) {
	clone := m.cloneDir(repo)

	if _, err := m.git(ctx, clone, "branch", "-D", branch); err != nil {
		slog.Debug("local branch delete failed", "branch", branch, "error", err)
	}
	if !deleteRemote {
		return
	}
	if err := m.setAuthenticatedRemote(ctx, clone, repo); err != nil {
		slog.Warn("cannot authenticate for remote branch delete", "branch", branch, "error", err)
		return
	}
	if _, err := m.git(ctx, clone, "push", "origin", "--delete", branch); err != nil {
		slog.Warn("remote branch delete failed", "branch", branch, "error", err)
	}
}

// List enumerates worktrees on disk across all repositories.
func (m *Manager) List() []Info {
	var out []Info
	root := m.cfg.WorktreesDir()
	repos, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, repoDir := range repos {
		if !repoDir.IsDir() {
			continue
		}
		branches, err := os.ReadDir(filepath.Join(root, repoDir.Name()))
		if err != nil {
			continue
		}
		for _, b := range branches {
			if !b.IsDir() {
				continue
			}
			out = append(out, Info{
				RepoName: repoDir.Name(),
				Branch:   b.Name(),
				Path:     filepath.Join(root, repoDir.Name(), b.Name()),
			})
		}
	}
	return out
}

// CleanupStale removes worktrees whose directories have not been touched
// within retention, then prunes every repository's worktree bookkeeping.
func (m *Manager) CleanupStale(ctx context.Context, retention time.Duration, activeBranches map[string]bool) int {
	removed := 0
	for _, wt := range m.List() {
		if activeBranches[wt.Branch] || activeBranches[session.SanitizeBranch(wt.Branch)] {
			continue
		}
		info, err := os.Stat(wt.Path)
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= retention {
			continue
		}
		repo := m.cfg.FindRepoByName(wt.RepoName)
		if repo == nil {
			continue
		}
		slog.Info("removing stale worktree", "repo", wt.RepoName, "branch", wt.Branch)
		if err := m.Remove(ctx, repo, wt.Branch); err != nil {
			slog.Warn("stale worktree removal failed", "path", wt.Path, "error", err)
			continue
		}
		removed++
	}

	// Prune everywhere, even when nothing was removed this pass.
	for i := range m.cfg.Repositories {
		repo := &m.cfg.Repositories[i]
		if !repo.SupportsChanges {
			continue
		}
		if _, err := m.git(ctx, m.cloneDir(repo), "worktree", "prune"); err != nil {
			slog.Debug("worktree prune failed", "repo", repo.Name, "error", err)
		}
	}
	return removed
}
