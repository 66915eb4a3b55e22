// Package changes implements the change-request workflow: planning,
// execution in an isolated worktree, PR creation, and the follow-up
// commands that drive a PR to merge or close.
package changes

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/clackhq/clack/internal/agent"
	"github.com/clackhq/clack/internal/config"
	"github.com/clackhq/clack/internal/pr"
	"github.com/clackhq/clack/internal/session"
	"github.com/clackhq/clack/internal/worktree"
)

// progressInterval throttles user-facing progress updates and the
// persisted progress ticks during execution.
const progressInterval = 30 * time.Second

// deleteBranchPattern matches an explicit request to remove the remote
// branch when closing a PR. Default is to keep it.
var deleteBranchPattern = regexp.MustCompile(`(?i)delete\s*(the\s*)?(remote\s*)?branch`)

// Orchestrator drives change sessions through the phase sequence,
// persisting every transition before the next side effect starts.
type Orchestrator struct {
	cfg       *config.Config
	registry  *session.Registry
	store     *session.Store
	worktrees *worktree.Manager
	gateway   *pr.Gateway
	runner    agent.Runner
}

// NewOrchestrator wires the workflow's collaborators. The registry is
// shared with the completion monitor and status surfaces.
func NewOrchestrator(
	cfg *config.Config,
	registry *session.Registry,
	store *session.Store,
	worktrees *worktree.Manager,
	gateway *pr.Gateway,
	runner agent.Runner,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		worktrees: worktrees,
		gateway:   gateway,
		runner:    runner,
	}
}

func (o *Orchestrator) log(branch, message string) {
	if err := o.store.AppendLog(branch, message); err != nil {
		slog.Debug("execution log write failed", "branch", branch, "error", err)
	}
}

func failure(format string, args ...any) session.ChangeResult {
	return session.ChangeResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// StartWorkflow runs a change request end to end: preconditions,
// workspace, execution, PR. It returns a structured result and never
// panics past its boundary; expected failures land in the result's
// Error field.
func (o *Orchestrator) StartWorkflow(
	ctx context.Context,
	req session.ChangeRequest,
	plan session.ChangePlan,
	threadID string,
	onProgress func(string),
) session.ChangeResult {
	if onProgress == nil {
		onProgress = func(string) {}
	}

	// Preconditions run before any side effect.
	maxConcurrent := o.cfg.Changes.MaxConcurrent
	if o.registry.ActiveCount() >= maxConcurrent {
		return failure("System is at capacity (%d concurrent changes). Please try again later.", maxConcurrent)
	}
	if existing := o.registry.ActiveForUser(req.UserID); existing != nil {
		return failure("You already have an active change request. Check your existing thread or wait for it to complete.")
	}
	if existing := o.registry.ByThread(req.ChannelID, threadID); existing != nil {
		return failure("This thread already has a change session (%s).", existing.ID)
	}

	repo := o.cfg.FindRepoByName(plan.TargetRepo)
	if repo == nil {
		return failure("Repository %s not found", plan.TargetRepo)
	}

	onProgress(fmt.Sprintf("Planning: %s", plan.Description))
	onProgress("Setting up workspace...")

	var wt session.WorktreeInfo
	var resumeContext string

	if existing := o.worktrees.Get(repo.Name, plan.BranchName); existing != nil {
		// Reuse the worktree from a failed or interrupted attempt.
		state, err := o.store.ReadState(plan.BranchName)
		if err == nil {
			onProgress(fmt.Sprintf("Resuming existing workspace (was: %s)...", state.Phase))
			o.log(plan.BranchName, fmt.Sprintf("Resuming from existing worktree (previous status: %s)", state.Status))
			resumeContext = fmt.Sprintf("Previous session was in %q phase. Last message: %q", state.Phase, state.LastMessage)
		} else {
			onProgress("Reusing existing workspace...")
			o.log(plan.BranchName, "Reusing existing worktree (no previous state)")
			resumeContext = "A previous session started but left no state. The workspace may have partial changes."
		}
		wt = session.WorktreeInfo{RepoName: existing.RepoName, Branch: existing.Branch, Path: existing.Path}
	} else {
		created, err := o.worktrees.Create(ctx, repo, plan.BranchName)
		if err != nil {
			return failure("Failed to create workspace: %v", err)
		}
		wt = session.WorktreeInfo{RepoName: created.RepoName, Branch: created.Branch, Path: created.Path}
	}

	sess, err := o.registry.Create(req, plan, threadID, wt, session.StatusExecuting)
	if err != nil {
		return failure("Failed to create session: %v", err)
	}

	onProgress("Implementing changes...")
	prInstructions := ResolvePRInstructions(o.cfg, wt.Path, repo)

	var lastTick time.Time
	execResult := o.executeChange(ctx, plan, wt, req, prInstructions, resumeContext, func(msg string) {
		if time.Since(lastTick) < progressInterval {
			return
		}
		lastTick = time.Now()
		onProgress("Implementing changes...\n_" + msg + "_")
		if err := o.registry.Touch(sess.ID, msg); err != nil {
			slog.Debug("progress persist failed", "session", sess.ID, "error", err)
		}
	})

	if !execResult.Success {
		o.log(plan.BranchName, "Execution failed: "+execResult.Error)
		if err := o.registry.UpdateStatus(sess.ID, session.StatusFailed, execResult.Error); err != nil {
			slog.Warn("status update failed", "session", sess.ID, "error", err)
		}
		// Session stays in the registry; worktree and state survive for
		// inspection and resume.
		return failure("%s", execResult.Error)
	}

	onProgress("Creating pull request...")
	prURL, err := o.createPR(ctx, repo, plan, wt, execResult.Summary)
	if err != nil {
		o.log(plan.BranchName, "PR creation failed: "+err.Error())
		if statusErr := o.registry.UpdateStatus(sess.ID, session.StatusFailed, err.Error()); statusErr != nil {
			slog.Warn("status update failed", "session", sess.ID, "error", statusErr)
		}
		return failure("Failed to create PR: %v", err)
	}

	if err := o.registry.UpdatePRURL(sess.ID, prURL); err != nil {
		slog.Warn("PR URL persist failed", "session", sess.ID, "error", err)
	}
	if err := o.registry.UpdateStatus(sess.ID, session.StatusPRCreated, "PR created"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}
	o.log(plan.BranchName, "PR created: "+prURL)

	return session.ChangeResult{Success: true, PRURL: prURL, Summary: execResult.Summary}
}

// createPR pushes the branch and opens the pull request. The body comes
// from an agent template-filling pass with a fallback to the execution
// summary.
func (o *Orchestrator) createPR(ctx context.Context, repo *config.RepositoryConfig, plan session.ChangePlan, wt session.WorktreeInfo, summary string) (string, error) {
	if err := o.worktrees.Push(ctx, repo, plan.BranchName); err != nil {
		return "", err
	}

	template := ResolvePRTemplate(o.cfg, wt.Path)
	body := o.resolvePRBody(ctx, wt, template, summary)

	title := session.TruncateRunes(plan.Description, 72)
	return o.gateway.Create(ctx, repo, plan.BranchName, title, body)
}

// HandleFollowUp applies a thread command to an existing session.
func (o *Orchestrator) HandleFollowUp(
	ctx context.Context,
	sess *session.ChangeSession,
	command FollowUpCommand,
	instructions string,
	onProgress func(string),
) session.ChangeResult {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	repo := o.cfg.FindRepoByName(sess.Plan.TargetRepo)
	if repo == nil {
		return failure("Repository %s not found", sess.Plan.TargetRepo)
	}

	switch command {
	case CommandReview:
		return o.followUpReview(ctx, sess, onProgress)
	case CommandMerge:
		return o.followUpMerge(ctx, sess, repo, onProgress)
	case CommandClose:
		return o.followUpClose(ctx, sess, repo, instructions, onProgress)
	case CommandUpdate:
		return o.followUpUpdate(ctx, sess, repo, instructions, onProgress)
	default:
		return failure("unknown follow-up command %q", command)
	}
}

func (o *Orchestrator) followUpReview(ctx context.Context, sess *session.ChangeSession, onProgress func(string)) session.ChangeResult {
	if sess.PRURL == "" {
		return failure("No PR URL in session")
	}
	onProgress("Reviewing PR comments...")
	if err := o.registry.UpdateStatus(sess.ID, session.StatusReviewing, "Addressing review comments"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}
	// reviewing always returns to pr_created, success or not
	defer func() {
		if err := o.registry.UpdateStatus(sess.ID, session.StatusPRCreated, ""); err != nil {
			slog.Warn("status update failed", "session", sess.ID, "error", err)
		}
	}()

	comments, err := o.gateway.Comments(ctx, sess.PRURL)
	if err != nil {
		return failure("Failed to fetch PR comments: %v", err)
	}
	if len(comments) == 0 {
		return session.ChangeResult{Success: true, Summary: "No review comments to address"}
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Address the review feedback on PR %s.\n\nComments:\n", sess.PRURL)
	for _, c := range comments {
		if c.Path != "" {
			fmt.Fprintf(&prompt, "- [%s] %s:%d: %s", c.Author, c.Path, c.Line, c.Body)
		} else {
			fmt.Fprintf(&prompt, "- [%s]: %s", c.Author, c.Body)
		}
		if c.Unresolved {
			prompt.WriteString(" (unresolved)")
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("\nImplement the requested changes, commit with a message like \"Address review feedback\", and output \"COMMENTS_ADDRESSED: N\" where N is the number of comments you addressed.")

	res := o.runner.Run(ctx, agent.Request{
		Prompt:       prompt.String(),
		WorkDir:      sess.Worktree.Path,
		AllowedTools: agent.ExecutionTools(o.cfg.Changes.AdditionalAllowedTools),
		Timeout:      o.cfg.Changes.Timeout(),
		LogLine:      func(line string) { o.log(sess.Plan.BranchName, line) },
	})
	if !res.Success {
		return failure("Review failed: %s", res.Error)
	}

	repo := o.cfg.FindRepoByName(sess.Plan.TargetRepo)
	if err := o.worktrees.Push(ctx, repo, sess.Plan.BranchName); err != nil {
		return failure("Failed to push review fixes: %v", err)
	}

	addressed := 0
	if m := regexp.MustCompile(`(?i)COMMENTS_ADDRESSED:\s*(\d+)`).FindStringSubmatch(res.Text); m != nil {
		fmt.Sscanf(m[1], "%d", &addressed)
	}
	return session.ChangeResult{Success: true, Summary: fmt.Sprintf("Addressed %d review comments", addressed)}
}

func (o *Orchestrator) followUpMerge(ctx context.Context, sess *session.ChangeSession, repo *config.RepositoryConfig, onProgress func(string)) session.ChangeResult {
	if sess.PRURL == "" {
		return failure("No PR URL in session")
	}
	onProgress("Merging PR...")
	if err := o.registry.UpdateStatus(sess.ID, session.StatusMerging, "Merging PR"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}

	cleanup, err := o.gateway.Merge(ctx, repo, sess.PRURL)
	if err != nil {
		if statusErr := o.registry.UpdateStatus(sess.ID, session.StatusPRCreated, "Merge failed"); statusErr != nil {
			slog.Warn("status update failed", "session", sess.ID, "error", statusErr)
		}
		return failure("Merge failed: %v", err)
	}

	if err := o.registry.UpdateStatus(sess.ID, session.StatusCompleted, "PR merged"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}
	o.cleanupWorkspace(ctx, repo, sess)
	o.registry.Remove(sess.ID, true)

	summary := "PR merged."
	if cleanup != "" {
		summary += " " + cleanup
	}
	return session.ChangeResult{Success: true, PRURL: sess.PRURL, Summary: summary}
}

func (o *Orchestrator) followUpClose(ctx context.Context, sess *session.ChangeSession, repo *config.RepositoryConfig, instructions string, onProgress func(string)) session.ChangeResult {
	if sess.PRURL == "" {
		return failure("No PR URL in session")
	}
	onProgress("Closing PR...")

	deleteBranch := deleteBranchPattern.MatchString(instructions)
	cleanup, err := o.gateway.Close(ctx, repo, sess.PRURL, deleteBranch)
	if err != nil {
		return failure("Close failed: %v", err)
	}

	if err := o.registry.UpdateStatus(sess.ID, session.StatusCompleted, "PR closed"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}
	o.cleanupWorkspace(ctx, repo, sess)
	o.registry.Remove(sess.ID, true)

	summary := "PR closed."
	if cleanup != "" {
		summary += " " + cleanup
	}
	if !deleteBranch {
		summary += " Remote branch kept - reply 'delete branch' to remove it."
	}
	return session.ChangeResult{Success: true, Summary: strings.TrimSpace(summary)}
}

func (o *Orchestrator) followUpUpdate(ctx context.Context, sess *session.ChangeSession, repo *config.RepositoryConfig, instructions string, onProgress func(string)) session.ChangeResult {
	onProgress("Implementing additional changes...")
	if err := o.registry.UpdateStatus(sess.ID, session.StatusExecuting, "Implementing additional changes"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}

	plan := sess.Plan
	req := sess.Request
	if instructions != "" {
		plan.Description = instructions
		req.Message = instructions
	}
	prInstructions := ResolvePRInstructions(o.cfg, sess.Worktree.Path, repo)

	var lastTick time.Time
	result := o.executeChange(ctx, plan, sess.Worktree, req, prInstructions, "", func(msg string) {
		if time.Since(lastTick) < progressInterval {
			return
		}
		lastTick = time.Now()
		onProgress("Implementing additional changes...\n_" + msg + "_")
		if err := o.registry.Touch(sess.ID, msg); err != nil {
			slog.Debug("progress persist failed", "session", sess.ID, "error", err)
		}
	})

	// Update failures don't kill the PR: the session returns to
	// pr_created either way.
	if !result.Success {
		if err := o.registry.UpdateStatus(sess.ID, session.StatusPRCreated, "Update failed"); err != nil {
			slog.Warn("status update failed", "session", sess.ID, "error", err)
		}
		return failure("%s", result.Error)
	}

	if err := o.worktrees.Push(ctx, repo, sess.Plan.BranchName); err != nil {
		if statusErr := o.registry.UpdateStatus(sess.ID, session.StatusPRCreated, "Push failed"); statusErr != nil {
			slog.Warn("status update failed", "session", sess.ID, "error", statusErr)
		}
		return failure("Failed to push updates: %v", err)
	}

	if err := o.registry.UpdateStatus(sess.ID, session.StatusPRCreated, "Additional changes pushed"); err != nil {
		slog.Warn("status update failed", "session", sess.ID, "error", err)
	}
	return session.ChangeResult{Success: true, PRURL: sess.PRURL, Summary: result.Summary}
}

// cleanupWorkspace removes the session's worktree and local branch,
// best-effort.
func (o *Orchestrator) cleanupWorkspace(ctx context.Context, repo *config.RepositoryConfig, sess *session.ChangeSession) {
	if err := o.worktrees.Remove(ctx, repo, sess.Plan.BranchName); err != nil {
		slog.Warn("worktree removal failed", "branch", sess.Plan.BranchName, "error", err)
	}
	o.worktrees.DeleteBranch(ctx, repo, sess.Plan.BranchName, false)
}
