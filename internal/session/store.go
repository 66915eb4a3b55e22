package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/clackhq/clack/internal/store"
)

// maxLastMessage bounds the persisted progress message length.
const maxLastMessage = 500

// PersistedState is the durable projection of a ChangeSession, written to
// state.json inside the session's branch folder on every transition and
// progress tick.
type PersistedState struct {
	SessionID      string    `json:"sessionId"`
	Status         Status    `json:"status"`
	Phase          string    `json:"phase"`
	Branch         string    `json:"branch"`
	Repo           string    `json:"repo"`
	UserID         string    `json:"userId"`
	Description    string    `json:"description"`
	PRURL          *string   `json:"prUrl"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	LastMessage    string    `json:"lastMessage"`
}

// ResumableSession describes a session folder that a cold start could
// pick back up.
type ResumableSession struct {
	Branch      string
	Repo        string
	Description string
	Phase       string
	LastMessage string
	StartedAt   time.Time
}

// Store owns the on-disk sessions directory: one folder per branch,
// holding a state.json snapshot and an append-only execution.log.
type Store struct {
	root string
}

// NewStore returns a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the sessions directory path.
func (s *Store) Root() string {
	return s.root
}

// FolderFor returns the on-disk folder path for a branch.
func (s *Store) FolderFor(branch string) string {
	return filepath.Join(s.root, SanitizeBranch(branch))
}

// TruncateRunes cuts s to at most max bytes without splitting a rune.
func TruncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Project builds the durable snapshot for a session.
func Project(sess *ChangeSession, lastMessage string) PersistedState {
	lastMessage = TruncateRunes(lastMessage, maxLastMessage)
	var prURL *string
	if sess.PRURL != "" {
		u := sess.PRURL
		prURL = &u
	}
	return PersistedState{
		SessionID:      sess.ID,
		Status:         sess.Status,
		Phase:          sess.Status.Phase(),
		Branch:         sess.Plan.BranchName,
		Repo:           sess.Plan.TargetRepo,
		UserID:         sess.UserID,
		Description:    sess.Plan.Description,
		PRURL:          prURL,
		StartedAt:      sess.CreatedAt,
		LastActivityAt: sess.LastActivityAt,
		LastMessage:    lastMessage,
	}
}

// WriteState overwrites state.json for the branch. The file is written
// to a temp file in the same directory and renamed into place so a crash
// mid-write never leaves a torn snapshot.
func (s *Store) WriteState(state PersistedState) error {
	dir := s.FolderFor(state.Branch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session folder: %w", err)
	}

	path := filepath.Join(dir, "state.json")
	return store.WithLock(path, store.DefaultLockTimeout, func() error {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling session state: %w", err)
		}
		tmp, err := os.CreateTemp(dir, "state-*.json")
		if err != nil {
			return fmt.Errorf("creating temp state file: %w", err)
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("writing session state: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("closing temp state file: %w", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			os.Remove(tmp.Name())
			return fmt.Errorf("replacing session state: %w", err)
		}
		return nil
	})
}

// ReadState loads the state.json snapshot for a branch. Returns
// os.ErrNotExist when no state has been persisted.
func (s *Store) ReadState(branch string) (PersistedState, error) {
	var state PersistedState
	path := filepath.Join(s.FolderFor(branch), "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parsing %s: %w", path, err)
	}
	return state, nil
}

// AppendLog appends one timestamped line to the branch's execution.log.
// The log is the forensic trail for the session and is never truncated.
func (s *Store) AppendLog(branch, message string) error {
	dir := s.FolderFor(branch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session folder: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "execution.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening execution log: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("appending to execution log: %w", err)
	}
	return nil
}

// RemoveFolder deletes a branch's session folder and its lock file.
func (s *Store) RemoveFolder(branch string) error {
	dir := s.FolderFor(branch)
	os.Remove(filepath.Join(dir, "state.json.lock"))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing session folder %s: %w", dir, err)
	}
	return nil
}

// ResumableSessions scans the sessions directory for folders whose
// persisted status allows a cold-start resume. Folders without a
// parseable state.json are skipped.
func (s *Store) ResumableSessions() ([]ResumableSession, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	var out []ResumableSession
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := s.readStateFile(filepath.Join(s.root, entry.Name(), "state.json"))
		if err != nil {
			continue
		}
		if !state.Status.Resumable() {
			continue
		}
		out = append(out, ResumableSession{
			Branch:      state.Branch,
			Repo:        state.Repo,
			Description: state.Description,
			Phase:       state.Phase,
			LastMessage: state.LastMessage,
			StartedAt:   state.StartedAt,
		})
	}
	return out, nil
}

// CleanupStaleFolders removes session folders no active session
// references. Failed, pr_created, and in-progress folders are never
// swept; a lingering completed folder is always removed; folders with
// unknown or unreadable state go only once older than retention.
func (s *Store) CleanupStaleFolders(retention time.Duration, activeBranches map[string]bool) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if activeBranches[name] || activeBranches[folderToBranch(name)] {
			continue
		}

		state, err := s.readStateFile(filepath.Join(s.root, name, "state.json"))
		if err == nil {
			switch {
			case state.Status.InProgress(), state.Status == StatusFailed, state.Status == StatusPRCreated:
				continue
			case state.Status == StatusCompleted:
				slog.Info("removing lingering completed session folder", "folder", name)
				s.removeDir(name)
				continue
			}
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > retention {
			slog.Info("removing stale session folder", "folder", name)
			s.removeDir(name)
		}
	}
}

func (s *Store) removeDir(name string) {
	if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
		slog.Warn("failed to remove session folder", "folder", name, "error", err)
	}
}

func (s *Store) readStateFile(path string) (PersistedState, error) {
	var state PersistedState
	data, err := os.ReadFile(path)
	if err != nil {
		return state, err
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, err
	}
	return state, nil
}

// folderToBranch reverses the folder-name sanitization. Ambiguous when
// the original branch contained literal dashes, so sweeps check both the
// literal folder name and this reversal against active branches.
func folderToBranch(folder string) string {
	return strings.ReplaceAll(folder, "-", "/")
}
