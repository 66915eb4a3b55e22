package changes

import (
	"context"
	"log/slog"
	"time"

	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/pr"
	"github.com/clackhq/clack/internal/session"
	"github.com/clackhq/clack/internal/worktree"
)

// Notifier posts a message into a session's chat thread. Failures are
// logged, never propagated: notification must not block cleanup.
type Notifier interface {
	Notify(ctx context.Context, sess *session.ChangeSession, message string) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *session.ChangeSession, string) error { return nil }

// Monitor reconciles sessions whose PR was merged or closed outside the
// workflow: it polls PR status for pr_created sessions and performs the
// same cleanup the merge/close follow-ups would.
type Monitor struct {
	cfg       *config.Config
	registry  *session.Registry
	worktrees *worktree.Manager
	gateway   *pr.Gateway
	notifier  Notifier
}

// NewMonitor builds a monitor over the shared registry.
func NewMonitor(cfg *config.Config, registry *session.Registry, worktrees *worktree.Manager, gateway *pr.Gateway, notifier Notifier) *Monitor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Monitor{cfg: cfg, registry: registry, worktrees: worktrees, gateway: gateway, notifier: notifier}
}

// Run polls until ctx is done. The first check runs immediately; an
// interval of zero disables monitoring entirely.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.Changes.MonitoringInterval()
	if interval == 0 {
		slog.Info("completion monitor disabled")
		return
	}

	slog.Info("starting completion monitor", "interval", interval)
	m.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce checks every pr_created session against the remote once.
func (m *Monitor) RunOnce(ctx context.Context) {
	sessions := m.registry.WithStatus(session.StatusPRCreated)
	checked, cleaned := 0, 0

	for _, sess := range sessions {
		if sess.PRURL == "" {
			continue
		}
		checked++

		status := m.gateway.PRStatus(ctx, sess.PRURL)
		if status != pr.StatusMerged && status != pr.StatusClosed {
			// Open, or a transient fetch error: do nothing this cycle.
			continue
		}

		// Re-fetch: a manual follow-up may have removed the session
		// while we were polling.
		current := m.registry.Get(sess.ID)
		if current == nil {
			slog.Debug("session removed during completion check", "session", sess.ID)
			continue
		}

		m.cleanup(ctx, current, status)
		cleaned++
	}

	if checked > 0 {
		slog.Debug("completion check finished", "checked", checked, "cleaned", cleaned)
	}
}

func (m *Monitor) cleanup(ctx context.Context, sess *session.ChangeSession, status pr.Status) {
	merged := status == pr.StatusMerged
	slog.Info("PR resolved externally, cleaning up session", "session", sess.ID, "pr", sess.PRURL, "merged", merged)

	var message string
	var newStatus session.Status
	if merged {
		message = "Your PR was merged externally. Session cleaned up automatically."
		newStatus = session.StatusCompleted
	} else {
		message = "Your PR was closed externally. Session cleaned up automatically."
		newStatus = session.StatusFailed
	}

	if err := m.notifier.Notify(ctx, sess, message); err != nil {
		slog.Warn("auto-completion notification failed", "session", sess.ID, "error", err)
	}

	if err := m.registry.UpdateStatus(sess.ID, newStatus, "PR resolved externally"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}

	if repo := m.cfg.FindRepoByName(sess.Plan.TargetRepo); repo != nil {
		if err := m.worktrees.Remove(ctx, repo, sess.Plan.BranchName); err != nil {
			slog.Warn("worktree removal failed", "session", sess.ID, "error", err)
		}
		m.worktrees.DeleteBranch(ctx, repo, sess.Plan.BranchName, false)
	}

	// Merged sessions reclaim their folder; closed ones keep it for
	// debugging.
	m.registry.Remove(sess.ID, merged)
}
