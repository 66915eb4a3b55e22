package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/gitauth"
)

func testManager(t *testing.T) (*Manager, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Repositories = []config.RepositoryConfig{
		{Name: "api", URL: "clackhq/api", SupportsChanges: true},
	}
	return NewManager(cfg, gitauth.StaticTokenProvider("tok")), cfg
}

func TestPathSanitizesBranch(t *testing.T) {
	m, cfg := testManager(t)
	want := filepath.Join(cfg.WorktreesDir(), "api", "clack-feat-x")
	assert.Equal(t, want, m.Path("api", "clack/feat/x"))
}

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	m, _ := testManager(t)
	assert.Nil(t, m.Get("api", "clack/feat/x"))
}

func TestGetFindsExistingWorktree(t *testing.T) {
	m, _ := testManager(t)
	path := m.Path("api", "clack/feat/x")
	require.NoError(t, os.MkdirAll(path, 0o755))

	wt := m.Get("api", "clack/feat/x")
	require.NotNil(t, wt)
	assert.Equal(t, path, wt.Path)
	assert.Equal(t, "clack/feat/x", wt.Branch)
}

func TestCreateRequiresMainClone(t *testing.T) {
	m, _ := testManager(t)
	repo := &m.cfg.Repositories[0]

	_, err := m.Create(context.Background(), repo, "feat/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main clone")
}

func TestListEnumeratesWorktrees(t *testing.T) {
	m, cfg := testManager(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.WorktreesDir(), "api", "feat-a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.WorktreesDir(), "api", "feat-b"), 0o755))

	infos := m.List()
	require.Len(t, infos, 2)
	branches := []string{infos[0].Branch, infos[1].Branch}
	assert.ElementsMatch(t, []string{"feat-a", "feat-b"}, branches)
}

func TestCleanupStaleSkipsActiveBranches(t *testing.T) {
	m, cfg := testManager(t)
	active := filepath.Join(cfg.WorktreesDir(), "api", "feat-active")
	require.NoError(t, os.MkdirAll(active, 0o755))

	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(active, old, old))

	removed := m.CleanupStale(context.Background(), 24*time.Hour, map[string]bool{"feat-active": true})
	assert.Equal(t, 0, removed)
	_, err := os.Stat(active)
	assert.NoError(t, err)
}
