package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	return st
}

func TestSanitizeBranch(t *testing.T) {
	assert.Equal(t, "clack-feat-add-retry", SanitizeBranch("clack/feat/add-retry"))
	assert.Equal(t, "main", SanitizeBranch("main"))
}

func TestStateRoundTrip(t *testing.T) {
	st := newTestStore(t)

	prURL := "https://github.com/clackhq/billing-service/pull/42"
	sess := &ChangeSession{
		ID:             NewID(),
		UserID:         "U123",
		Plan:           ChangePlan{BranchName: "clack/feat/add-retry", Description: "Add retry logic", TargetRepo: "billing-service"},
		PRURL:          prURL,
		Status:         StatusPRCreated,
		CreatedAt:      time.Now().Add(-time.Hour).Truncate(time.Second),
		LastActivityAt: time.Now().Truncate(time.Second),
	}

	require.NoError(t, st.WriteState(Project(sess, "pushed branch")))

	got, err := st.ReadState("clack/feat/add-retry")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.SessionID)
	assert.Equal(t, StatusPRCreated, got.Status)
	assert.Equal(t, "PR Created", got.Phase)
	assert.Equal(t, "clack/feat/add-retry", got.Branch)
	assert.Equal(t, "billing-service", got.Repo)
	assert.Equal(t, "Add retry logic", got.Description)
	require.NotNil(t, got.PRURL)
	assert.Equal(t, prURL, *got.PRURL)
	assert.Equal(t, "pushed branch", got.LastMessage)

	// folder name carries the sanitized branch
	_, err = os.Stat(filepath.Join(st.Root(), "clack-feat-add-retry", "state.json"))
	assert.NoError(t, err)
}

func TestProjectTruncatesLastMessage(t *testing.T) {
	sess := &ChangeSession{Plan: ChangePlan{BranchName: "b"}}
	state := Project(sess, strings.Repeat("x", 2000))
	assert.Len(t, state.LastMessage, 500)
	assert.Nil(t, state.PRURL)
}

func TestProjectTruncationKeepsValidUTF8(t *testing.T) {
	sess := &ChangeSession{Plan: ChangePlan{BranchName: "b"}}
	state := Project(sess, strings.Repeat("日", 400))
	assert.True(t, utf8.ValidString(state.LastMessage))
	// 500 falls mid-rune for a 3-byte rune; the cut backs off to 498.
	assert.Len(t, state.LastMessage, 498)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", TruncateRunes("short", 72))
	cut := TruncateRunes(strings.Repeat("日", 30), 72)
	assert.True(t, utf8.ValidString(cut))
	assert.LessOrEqual(t, len(cut), 72)
	assert.Equal(t, strings.Repeat("日", 24), cut)
}

func TestAppendLogIsAppendOnly(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AppendLog("feat/x", "first"))
	require.NoError(t, st.AppendLog("feat/x", "second"))

	data, err := os.ReadFile(filepath.Join(st.Root(), "feat-x", "execution.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2}T`, lines[0])
}

func TestResumableSessions(t *testing.T) {
	st := newTestStore(t)

	write := func(branch string, status Status) {
		sess := &ChangeSession{
			ID:     NewID(),
			Plan:   ChangePlan{BranchName: branch, TargetRepo: "api", Description: "d"},
			Status: status,
		}
		require.NoError(t, st.WriteState(Project(sess, "last")))
	}

	write("feat/resumable", StatusExecuting)
	write("feat/broken", StatusFailed)
	write("feat/open-pr", StatusPRCreated)
	write("feat/reviewing", StatusReviewing)

	// unparseable folder is skipped
	junk := filepath.Join(st.Root(), "junk")
	require.NoError(t, os.MkdirAll(junk, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(junk, "state.json"), []byte("not json"), 0o644))

	got, err := st.ResumableSessions()
	require.NoError(t, err)
	branches := make([]string, 0, len(got))
	for _, r := range got {
		branches = append(branches, r.Branch)
	}
	assert.ElementsMatch(t, []string{"feat/resumable", "feat/broken"}, branches)
}

func TestCleanupStaleFolders(t *testing.T) {
	st := newTestStore(t)

	write := func(branch string, status Status) {
		sess := &ChangeSession{ID: NewID(), Plan: ChangePlan{BranchName: branch}, Status: status}
		require.NoError(t, st.WriteState(Project(sess, "")))
	}

	write("feat/active", StatusExecuting)
	write("feat/failed", StatusFailed)
	write("feat/done", StatusCompleted)
	write("feat/waiting", StatusPRCreated)

	st.CleanupStaleFolders(time.Hour, map[string]bool{"feat/active": true, "feat-active": true})

	exists := func(folder string) bool {
		_, err := os.Stat(filepath.Join(st.Root(), folder))
		return err == nil
	}
	assert.True(t, exists("feat-active"), "active session folder must survive")
	assert.True(t, exists("feat-failed"), "failed folders are never auto-deleted")
	assert.True(t, exists("feat-waiting"), "pr_created folders are never swept")
	assert.False(t, exists("feat-done"), "lingering completed folders are reclaimed")
}

func TestCleanupStaleFoldersRespectsRetention(t *testing.T) {
	st := newTestStore(t)

	junk := filepath.Join(st.Root(), "orphan")
	require.NoError(t, os.MkdirAll(junk, 0o755))

	st.CleanupStaleFolders(time.Hour, nil)
	_, err := os.Stat(junk)
	assert.NoError(t, err, "fresh unparseable folder stays within retention")

	st.CleanupStaleFolders(0, nil)
	_, err = os.Stat(junk)
	assert.True(t, os.IsNotExist(err), "expired unparseable folder is removed")
}
