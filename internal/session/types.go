// Package session holds the change-session data model, the in-memory
// registry, and the durable per-branch folder mirror under the data
// directory.
package session

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TriggerType records how a change request entered the system.
type TriggerType string

const (
	TriggerDirectMessage TriggerType = "direct_message"
	TriggerMention       TriggerType = "mention"
	TriggerReaction      TriggerType = "reaction"
)

// ChangeRequest is the immutable user input that starts a workflow.
type ChangeRequest struct {
	UserID    string      `json:"userId"`
	Message   string      `json:"message"`
	Trigger   TriggerType `json:"trigger"`
	ChannelID string      `json:"channelId"`
	ThreadID  string      `json:"threadId,omitempty"`
	MessageID string      `json:"messageId"`
}

// ChangePlan is the derived plan for a change: which repo, which branch,
// and a human description of the work. Immutable after planning, except
// Description which follow-up "update" commands override transiently.
type ChangePlan struct {
	BranchName  string `json:"branchName"`
	Description string `json:"description"`
	TargetRepo  string `json:"targetRepo"`
}

// WorktreeInfo describes the worktree a session exclusively owns.
type WorktreeInfo struct {
	RepoName string `json:"repoName"`
	Branch   string `json:"branch"`
	Path     string `json:"path"`
}

// Status is the change-session state machine. reviewing and merging
// always return to pr_created; completed and failed are terminal.
type Status string

const (
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusPRCreated Status = "pr_created"
	StatusReviewing Status = "reviewing"
	StatusMerging   Status = "merging"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InProgress reports whether an agent invocation may currently be running
// on the session's behalf. In-progress sessions are never expired.
func (s Status) InProgress() bool {
	switch s {
	case StatusPlanning, StatusExecuting, StatusReviewing, StatusMerging:
		return true
	}
	return false
}

// Phase returns the human-readable label for a status.
func (s Status) Phase() string {
	switch s {
	case StatusPlanning:
		return "Planning"
	case StatusExecuting:
		return "Implementing"
	case StatusPRCreated:
		return "PR Created"
	case StatusReviewing:
		return "Reviewing PR"
	case StatusMerging:
		return "Merging"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	}
	return "Unknown"
}

// Resumable reports whether a cold-start resume makes sense for this
// status. Sessions with an open PR are actively managed by the monitor,
// not resumed.
func (s Status) Resumable() bool {
	return s == StatusPlanning || s == StatusExecuting || s == StatusFailed
}

// ChangeSession is the central mutable entity tracking one change from
// plan to PR resolution.
type ChangeSession struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	Request        ChangeRequest `json:"request"`
	Plan           ChangePlan    `json:"plan"`
	Worktree       WorktreeInfo  `json:"worktree"`
	PRURL          string        `json:"prUrl,omitempty"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	ChannelID      string        `json:"channelId"`
	ThreadID       string        `json:"threadId"`
}

// ChangeResult is the workflow's structured outcome; workflows return
// this rather than throwing past their boundary.
type ChangeResult struct {
	Success bool
	PRURL   string
	Summary string
	Error   string
}

// ExecutionResult carries the agent's output from an execution pass.
type ExecutionResult struct {
	Success    bool
	CommitHash string
	Summary    string
	Error      string
}

// ActiveWorker is a lightweight view of a running session for status
// surfaces.
type ActiveWorker struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Repo      string    `json:"repo"`
	Branch    string    `json:"branch"`
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"startedAt"`
}

// NewID returns a fresh session id. The ULID embeds creation time so ids
// sort chronologically.
func NewID() string {
	return "change-" + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// SanitizeBranch maps a branch name to its session folder name. Slashes
// are not valid in a single path element, so they become dashes. Not
// collision-free if a repo uses both a/b and a-b as branch names.
func SanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
