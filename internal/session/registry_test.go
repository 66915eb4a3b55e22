package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(newTestStore(t))
}

func mkRequest(user, channel string) ChangeRequest {
	return ChangeRequest{
		UserID:    user,
		Message:   "please add retries",
		Trigger:   TriggerMention,
		ChannelID: channel,
		MessageID: "1724800000.000100",
	}
}

func TestCreateIndexesByThread(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/a", TargetRepo: "api"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)
	assert.True(t, len(sess.ID) > len("change-"))

	got := reg.ByThread("C1", "T1")
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	assert.Nil(t, reg.ByThread("C1", "T2"))
	assert.Nil(t, reg.ByThread("C2", "T1"))
}

func TestCreateRejectsDuplicateThread(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/a"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)

	_, err = reg.Create(mkRequest("U2", "C1"), ChangePlan{BranchName: "feat/b"}, "T1", WorktreeInfo{}, StatusExecuting)
	assert.Error(t, err)
}

func TestActiveForUser(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/a"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)

	require.NotNil(t, reg.ActiveForUser("U1"))
	assert.Nil(t, reg.ActiveForUser("U2"))

	// terminal sessions no longer count as active
	require.NoError(t, reg.UpdateStatus(sess.ID, StatusFailed, "agent failed"))
	assert.Nil(t, reg.ActiveForUser("U1"))
	assert.Equal(t, 0, reg.ActiveCount())
}

func TestUpdateStatusPersistsBeforeReturn(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st)

	sess, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/a", TargetRepo: "api"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStatus(sess.ID, StatusPRCreated, "opened PR"))

	state, err := st.ReadState("feat/a")
	require.NoError(t, err)
	assert.Equal(t, StatusPRCreated, state.Status)
	assert.Equal(t, "PR Created", state.Phase)
	assert.Equal(t, "opened PR", state.LastMessage)
}

func TestUpdatePRURL(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st)

	sess, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/a"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)

	url := "https://github.com/clackhq/api/pull/7"
	require.NoError(t, reg.UpdatePRURL(sess.ID, url))

	assert.Equal(t, url, reg.Get(sess.ID).PRURL)
	state, err := st.ReadState("feat/a")
	require.NoError(t, err)
	require.NotNil(t, state.PRURL)
	assert.Equal(t, url, *state.PRURL)
}

func TestRemoveCleansFolderOnlyWhenCompleted(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st)

	failed, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/failed"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateStatus(failed.ID, StatusFailed, ""))
	reg.Remove(failed.ID, true)

	_, err = st.ReadState("feat/failed")
	assert.NoError(t, err, "failed session folder is preserved for postmortem")

	done, err := reg.Create(mkRequest("U2", "C2"), ChangePlan{BranchName: "feat/done"}, "T2", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateStatus(done.ID, StatusCompleted, ""))
	reg.Remove(done.ID, true)

	_, err = st.ReadState("feat/done")
	assert.Error(t, err, "completed session folder is reclaimed")

	// thread index is cleared either way
	assert.Nil(t, reg.ByThread("C1", "T1"))
	assert.Nil(t, reg.ByThread("C2", "T2"))
}

func TestCleanupExpiredSparesInProgress(t *testing.T) {
	reg := newTestRegistry(t)

	executing, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/live"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)
	stale, err := reg.Create(mkRequest("U2", "C2"), ChangePlan{BranchName: "feat/stale"}, "T2", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)
	require.NoError(t, reg.UpdateStatus(stale.ID, StatusFailed, ""))

	// backdate both beyond the expiry window
	reg.mu.Lock()
	for _, s := range reg.byID {
		s.LastActivityAt = time.Now().Add(-48 * time.Hour)
	}
	reg.mu.Unlock()

	removed := reg.CleanupExpired(24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.NotNil(t, reg.Get(executing.ID), "in-progress sessions are never expired")
	assert.Nil(t, reg.Get(stale.ID))
}

func TestWorkersSummarizesActiveSessions(t *testing.T) {
	reg := newTestRegistry(t)

	sess, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "feat/a", TargetRepo: "api"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)

	workers := reg.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, sess.ID, workers[0].SessionID)
	assert.Equal(t, "Implementing", workers[0].Phase)

	require.NoError(t, reg.UpdateStatus(sess.ID, StatusCompleted, ""))
	assert.Empty(t, reg.Workers())
}

func TestActiveBranchesIncludesSanitizedForm(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create(mkRequest("U1", "C1"), ChangePlan{BranchName: "clack/feat/x"}, "T1", WorktreeInfo{}, StatusExecuting)
	require.NoError(t, err)

	branches := reg.ActiveBranches()
	assert.True(t, branches["clack/feat/x"])
	assert.True(t, branches["clack-feat-x"])
}
