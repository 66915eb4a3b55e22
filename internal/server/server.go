// Package server runs the clack daemon: the completion monitor, the
// periodic expiry and stale-workspace sweeps, and a small HTTP status
// API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/clackhq/clack/internal/changes"
	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/pr"
	"github.com/clackhq/clack/internal/session"
	"github.com/clackhq/clack/internal/worktree"
)

// sweepInterval is how often expired sessions and stale folders and
// worktrees are reclaimed.
const sweepInterval = time.Hour

// Deps are the shared components the daemon coordinates.
type Deps struct {
	Registry  *session.Registry
	Store     *session.Store
	Worktrees *worktree.Manager
	Gateway   *pr.Gateway
	Monitor   *changes.Monitor
}

var startTime = time.Now()

// Run starts the daemon and blocks until the context is cancelled.
func Run(ctx context.Context, cfg *config.Config, deps Deps) error {
	if err := deps.Worktrees.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing workspaces: %w", err)
	}

	if resumable, err := deps.Store.ResumableSessions(); err == nil && len(resumable) > 0 {
		for _, r := range resumable {
			slog.Info("resumable session found", "branch", r.Branch, "repo", r.Repo, "phase", r.Phase)
		}
	}

	var wg sync.WaitGroup

	if cfg.Changes.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deps.Monitor.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeps(ctx, cfg, deps)
	}()

	mux := http.NewServeMux()
	registerRoutes(mux, cfg, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("status API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("status API: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("status API shutdown error", "error", err)
	}
	wg.Wait()
	slog.Info("daemon stopped")
	return nil
}

// runSweeps runs the periodic reclamation passes: expired sessions,
// stale session folders, stale worktrees. One pass runs at startup.
func runSweeps(ctx context.Context, cfg *config.Config, deps Deps) {
	sweep := func() {
		expired := deps.Registry.CleanupExpired(cfg.Changes.SessionExpiry())
		if expired > 0 {
			slog.Info("expired idle sessions", "count", expired)
		}
		active := deps.Registry.ActiveBranches()
		deps.Store.CleanupStaleFolders(cfg.Changes.SessionExpiry(), active)
		deps.Worktrees.CleanupStale(ctx, cfg.Changes.SessionExpiry(), active)
	}

	sweep()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func registerRoutes(mux *http.ServeMux, cfg *config.Config, deps Deps) {
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"uptime":         time.Since(startTime).Round(time.Second).String(),
			"activeSessions": deps.Registry.ActiveCount(),
			"maxConcurrent":  cfg.Changes.MaxConcurrent,
			"changesEnabled": cfg.Changes.Enabled,
		})
	})

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		type sessionView struct {
			ID       string `json:"id"`
			UserID   string `json:"userId"`
			Repo     string `json:"repo"`
			Branch   string `json:"branch"`
			Phase    string `json:"phase"`
			PRURL    string `json:"prUrl,omitempty"`
			Created  string `json:"createdAt"`
			Activity string `json:"lastActivityAt"`
		}
		var views []sessionView
		for _, s := range deps.Registry.All() {
			views = append(views, sessionView{
				ID:       s.ID,
				UserID:   s.UserID,
				Repo:     s.Plan.TargetRepo,
				Branch:   s.Plan.BranchName,
				Phase:    s.Status.Phase(),
				PRURL:    s.PRURL,
				Created:  s.CreatedAt.Format(time.RFC3339),
				Activity: s.LastActivityAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, views)
	})

	mux.HandleFunc("GET /workers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Registry.Workers())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
