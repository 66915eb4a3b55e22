package changes

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/clackhq/clack/internal/agent"
	"github.com/clackhq/clack/internal/session"
)

var (
	commitHashPattern = regexp.MustCompile(`(?i)COMMIT_HASH:\s*([a-f0-9]+)`)
	summaryPattern    = regexp.MustCompile(`(?i)SUMMARY:\s*(.+)`)
)

// executeChange runs one implementation pass in the worktree and parses
// the commit hash and summary markers out of the agent's answer.
func (o *Orchestrator) executeChange(
	ctx context.Context,
	plan session.ChangePlan,
	wt session.WorktreeInfo,
	req session.ChangeRequest,
	prInstructions string,
	resumeContext string,
	onProgress func(string),
) session.ExecutionResult {
	systemPrompt := executionSystemPrompt
	if prInstructions != "" {
		systemPrompt += "\n\nPR Guidelines:\n" + prInstructions
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Implement this change:\n\nDescription: %s\n\nOriginal request: %q\n\nWork in this branch: %s", plan.Description, req.Message, plan.BranchName)
	if resumeContext != "" {
		fmt.Fprintf(&prompt, "\n\nIMPORTANT - Resuming previous session:\n%s\nCheck git status and git log to understand what was already done. Continue from where the previous session left off.", resumeContext)
	}
	prompt.WriteString("\n\nRemember to:\n1. Make the changes\n2. Run tests if available\n3. Commit with a descriptive message\n4. Output COMMIT_HASH: and SUMMARY: at the end")

	res := o.runner.Run(ctx, agent.Request{
		Prompt:       prompt.String(),
		WorkDir:      wt.Path,
		SystemPrompt: systemPrompt,
		AllowedTools: agent.ExecutionTools(o.cfg.Changes.AdditionalAllowedTools),
		Timeout:      o.cfg.Changes.Timeout(),
		LogLine:      func(line string) { o.log(plan.BranchName, line) },
		OnProgress:   onProgress,
	})
	if !res.Success {
		errText := res.Error
		if errText == "" {
			errText = "execution failed"
		}
		return session.ExecutionResult{Success: false, Error: errText}
	}

	out := session.ExecutionResult{Success: true, Summary: "Changes implemented"}
	if m := commitHashPattern.FindStringSubmatch(res.Text); m != nil {
		out.CommitHash = m[1]
	}
	if m := summaryPattern.FindStringSubmatch(res.Text); m != nil {
		out.Summary = strings.TrimSpace(firstLine(m[1]))
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// resolvePRBody has the agent fill the PR template from the execution
// summary using read-only tools. Falls back to the raw summary when the
// call fails or comes back empty.
func (o *Orchestrator) resolvePRBody(ctx context.Context, wt session.WorktreeInfo, template, summary string) string {
	prompt := fmt.Sprintf("Fill in this pull request template for the changes on the current branch.\n\nTemplate:\n%s\n\nExecution summary: %s\n\nInspect the branch's commits and diff as needed. Output only the completed PR body, nothing else.", template, summary)

	res := o.runner.Run(ctx, agent.Request{
		Prompt:       prompt,
		WorkDir:      wt.Path,
		AllowedTools: append(agent.ReadOnlyTools(), "Bash"),
		Timeout:      o.cfg.Changes.Timeout() / 5,
		LogLine:      func(line string) { o.log(wt.Branch, line) },
	})
	if !res.Success || strings.TrimSpace(res.Text) == "" {
		return summary
	}
	return res.Text
}
