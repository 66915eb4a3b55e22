package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry is the in-memory index of live change sessions, mirrored to
// the Store on every mutation. The durable write completes before any
// mutator returns, so a crash loses at most the in-flight operation.
//
// The registry is constructed once at the composition root and passed to
// the orchestrator, monitor, and status surfaces by reference.
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*ChangeSession
	byThread map[string]string
	store    *Store
}

// NewRegistry returns an empty registry backed by store.
func NewRegistry(store *Store) *Registry {
	return &Registry{
		byID:     make(map[string]*ChangeSession),
		byThread: make(map[string]string),
		store:    store,
	}
}

func threadKey(channelID, threadID string) string {
	return channelID + "\x00" + threadID
}

// Create registers a new session for the request/plan pair and persists
// its initial snapshot. Fails when the thread already has a session.
func (r *Registry) Create(req ChangeRequest, plan ChangePlan, threadID string, wt WorktreeInfo, status Status) (*ChangeSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := threadKey(req.ChannelID, threadID)
	if existing, ok := r.byThread[key]; ok {
		return nil, fmt.Errorf("thread already has change session %s", existing)
	}

	now := time.Now()
	sess := &ChangeSession{
		ID:             NewID(),
		UserID:         req.UserID,
		Request:        req,
		Plan:           plan,
		Worktree:       wt,
		Status:         status,
		CreatedAt:      now,
		LastActivityAt: now,
		ChannelID:      req.ChannelID,
		ThreadID:       threadID,
	}

	r.byID[sess.ID] = sess
	r.byThread[key] = sess.ID

	if err := r.store.WriteState(Project(sess, "")); err != nil {
		delete(r.byID, sess.ID)
		delete(r.byThread, key)
		return nil, fmt.Errorf("persisting new session: %w", err)
	}
	return copyOf(sess), nil
}

// Get returns the session by id, or nil.
func (r *Registry) Get(id string) *ChangeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byID[id]; ok {
		return copyOf(sess)
	}
	return nil
}

// ByThread returns the session owning a (channel, thread) pair, or nil.
func (r *Registry) ByThread(channelID, threadID string) *ChangeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byThread[threadKey(channelID, threadID)]; ok {
		return copyOf(r.byID[id])
	}
	return nil
}

// ActiveForUser returns the user's non-terminal session, or nil. Linear
// scan; registry size is bounded by maxConcurrent.
func (r *Registry) ActiveForUser(userID string) *ChangeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.byID {
		if sess.UserID == userID && !sess.Status.Terminal() {
			return copyOf(sess)
		}
	}
	return nil
}

// ActiveCount returns the number of non-terminal sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sess := range r.byID {
		if !sess.Status.Terminal() {
			n++
		}
	}
	return n
}

// WithStatus returns copies of all sessions currently in status.
func (r *Registry) WithStatus(status Status) []*ChangeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ChangeSession
	for _, sess := range r.byID {
		if sess.Status == status {
			out = append(out, copyOf(sess))
		}
	}
	return out
}

// All returns copies of every registered session.
func (r *Registry) All() []*ChangeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ChangeSession, 0, len(r.byID))
	for _, sess := range r.byID {
		out = append(out, copyOf(sess))
	}
	return out
}

// UpdateStatus transitions a session and persists the new snapshot
// before returning.
func (r *Registry) UpdateStatus(id string, status Status, lastMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.Status = status
	sess.LastActivityAt = time.Now()
	return r.store.WriteState(Project(sess, lastMessage))
}

// UpdatePRURL records the session's PR URL and persists.
func (r *Registry) UpdatePRURL(id, prURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.PRURL = prURL
	sess.LastActivityAt = time.Now()
	return r.store.WriteState(Project(sess, ""))
}

// Touch persists a progress tick without changing status.
func (r *Registry) Touch(id, lastMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.LastActivityAt = time.Now()
	return r.store.WriteState(Project(sess, lastMessage))
}

// Remove clears a session from both indexes. The on-disk folder is
// deleted only when cleanupFolder is set and the session completed;
// failed sessions keep their folder for postmortem.
func (r *Registry) Remove(id string, cleanupFolder bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byThread, threadKey(sess.ChannelID, sess.ThreadID))

	if cleanupFolder && sess.Status == StatusCompleted {
		if err := r.store.RemoveFolder(sess.Plan.BranchName); err != nil {
			slog.Warn("failed to remove session folder", "session", id, "error", err)
		}
	}
}

// CleanupExpired removes sessions idle longer than expiry. In-progress
// sessions are never expired regardless of age.
func (r *Registry) CleanupExpired(expiry time.Duration) int {
	r.mu.Lock()
	var expired []*ChangeSession
	for _, sess := range r.byID {
		if sess.Status.InProgress() {
			continue
		}
		if time.Since(sess.LastActivityAt) > expiry {
			expired = append(expired, sess)
		}
	}
	r.mu.Unlock()

	for _, sess := range expired {
		slog.Info("expiring idle session", "session", sess.ID, "status", sess.Status, "branch", sess.Plan.BranchName)
		r.Remove(sess.ID, true)
	}
	return len(expired)
}

// ActiveBranches returns the set of branch names live sessions hold,
// keyed both raw and sanitized, for the stale-folder sweep.
func (r *Registry) ActiveBranches() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.byID)*2)
	for _, sess := range r.byID {
		out[sess.Plan.BranchName] = true
		out[SanitizeBranch(sess.Plan.BranchName)] = true
	}
	return out
}

// Workers summarizes non-terminal sessions for status display.
func (r *Registry) Workers() []ActiveWorker {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ActiveWorker
	for _, sess := range r.byID {
		if sess.Status.Terminal() {
			continue
		}
		out = append(out, ActiveWorker{
			SessionID: sess.ID,
			UserID:    sess.UserID,
			Repo:      sess.Plan.TargetRepo,
			Branch:    sess.Plan.BranchName,
			Phase:     sess.Status.Phase(),
			StartedAt: sess.CreatedAt,
		})
	}
	return out
}

func copyOf(sess *ChangeSession) *ChangeSession {
	c := *sess
	return &c
}
