package changes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/clackhq/clack/internal/agent"
	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/session"
)

var (
	planPattern        = regexp.MustCompile(`(?s)<change-plan>(.*?)</change-plan>`)
	branchPattern      = regexp.MustCompile(`(?s)<branch>(.*?)</branch>`)
	descriptionPattern = regexp.MustCompile(`(?s)<description>(.*?)</description>`)
	repoPattern        = regexp.MustCompile(`(?s)<repo>(.*?)</repo>`)
)

// GeneratePlan asks the agent to turn a free-text request into a
// ChangePlan. The call runs with no tools and a short timeout; the
// target repo is validated against the change-enabled list.
func GeneratePlan(ctx context.Context, runner agent.Runner, cfg *config.Config, message string) (session.ChangePlan, error) {
	repos := cfg.ChangeEnabledRepos()
	if len(repos) == 0 {
		return session.ChangePlan{}, fmt.Errorf("no repositories have changes enabled")
	}

	var list strings.Builder
	for _, r := range repos {
		fmt.Fprintf(&list, "- %s: %s\n", r.Name, r.Description)
	}

	prompt := fmt.Sprintf("Analyze this change request and create a plan:\n\nRequest: %q\n\nAvailable repositories that support changes:\n%s", message, list.String())

	// Run from the first enabled repo's clone when it exists, so the
	// agent sees real code context.
	cwd := filepath.Join(cfg.RepositoriesDir(), repos[0].Name)
	if _, err := os.Stat(cwd); err != nil {
		cwd = ""
	}

	res := runner.Run(ctx, agent.Request{
		Prompt:          prompt,
		WorkDir:         cwd,
		SystemPrompt:    planGenerationPrompt,
		DisallowedTools: []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
		Timeout:         time.Minute,
	})
	if !res.Success {
		return session.ChangePlan{}, fmt.Errorf("plan generation failed: %s", res.Error)
	}

	plan, err := ParsePlan(res.Text)
	if err != nil {
		return session.ChangePlan{}, err
	}

	if cfg.FindRepoByName(plan.TargetRepo) == nil {
		return session.ChangePlan{}, fmt.Errorf("repository %s not found in available repositories", plan.TargetRepo)
	}
	return plan, nil
}

// ParsePlan extracts a ChangePlan from the tag grammar the planning
// prompt requests.
func ParsePlan(text string) (session.ChangePlan, error) {
	m := planPattern.FindStringSubmatch(text)
	if m == nil {
		return session.ChangePlan{}, fmt.Errorf("no change plan found in response")
	}
	content := m[1]

	branch := branchPattern.FindStringSubmatch(content)
	description := descriptionPattern.FindStringSubmatch(content)
	repo := repoPattern.FindStringSubmatch(content)
	if branch == nil || description == nil || repo == nil {
		return session.ChangePlan{}, fmt.Errorf("invalid plan: missing required fields")
	}

	return session.ChangePlan{
		BranchName:  strings.TrimSpace(branch[1]),
		Description: strings.TrimSpace(description[1]),
		TargetRepo:  strings.TrimSpace(repo[1]),
	}, nil
}
