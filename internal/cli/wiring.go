package cli

import (
	"fmt"
	"os"

	"github.com/clackhq/clack/internal/agent"
	"github.com/clackhq/clack/internal/changes"
	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/gitauth"
	"github.com/clackhq/clack/internal/pr"
	"github.com/clackhq/clack/internal/session"
	"github.com/clackhq/clack/internal/worktree"
)

// components is the composition root shared by serve and change.
type components struct {
	tokens    gitauth.TokenProvider
	store     *session.Store
	registry  *session.Registry
	worktrees *worktree.Manager
	gateway   *pr.Gateway
	runner    agent.Runner
	orch      *changes.Orchestrator
}

func buildTokenProvider(cfg *config.Config) (gitauth.TokenProvider, error) {
	app := cfg.GitHub
	if app.AppID != "" && app.InstallationID != "" && app.PrivateKeyPath != "" {
		return gitauth.NewAppTokenProvider(app.AppID, app.InstallationID, app.PrivateKeyPath)
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return gitauth.StaticTokenProvider(token), nil
	}
	return nil, fmt.Errorf("no GitHub credentials: configure a GitHub App or set GITHUB_TOKEN")
}

func buildComponents(cfg *config.Config) (*components, error) {
	tokens, err := buildTokenProvider(cfg)
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(cfg.SessionsDir())
	if err != nil {
		return nil, err
	}
	registry := session.NewRegistry(store)
	worktrees := worktree.NewManager(cfg, tokens)
	gateway := pr.NewGateway(tokens)
	runner := &agent.CLIRunner{DefaultTimeout: cfg.Changes.Timeout()}

	return &components{
		tokens:    tokens,
		store:     store,
		registry:  registry,
		worktrees: worktrees,
		gateway:   gateway,
		runner:    runner,
		orch:      changes.NewOrchestrator(cfg, registry, store, worktrees, gateway, runner),
	}, nil
}
