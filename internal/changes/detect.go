package changes

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/clackhq/clack/internal/agent"
)

// FollowUpCommand is one of the recognized thread commands.
type FollowUpCommand string

const (
	CommandMerge  FollowUpCommand = "merge"
	CommandReview FollowUpCommand = "review"
	CommandClose  FollowUpCommand = "close"
	CommandUpdate FollowUpCommand = "update"
)

// FollowUp is a detected command and its extra instructions.
type FollowUp struct {
	Command      FollowUpCommand
	Instructions string
}

var (
	followUpPattern     = regexp.MustCompile(`(?s)<follow-up-command>(.*?)</follow-up-command>`)
	commandPattern      = regexp.MustCompile(`(?s)<command>(.*?)</command>`)
	instructionsPattern = regexp.MustCompile(`(?s)<instructions>(.*?)</instructions>`)
	questionPattern     = regexp.MustCompile(`<question>true</question>`)
)

// DetectFollowUp classifies a message inside an active change thread.
// Returns nil when the message is a question; any invoker failure or
// parse ambiguity also yields nil, the non-destructive outcome.
func DetectFollowUp(ctx context.Context, runner agent.Runner, message, worktreePath string) *FollowUp {
	res := runner.Run(ctx, agent.Request{
		Prompt:          fmt.Sprintf("Analyze this message in a change thread and determine the user's intent:\n\n%q", message),
		WorkDir:         worktreePath,
		SystemPrompt:    followUpDetectionPrompt,
		DisallowedTools: []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
		Timeout:         time.Minute,
	})
	if !res.Success {
		return nil
	}
	return ParseFollowUp(res.Text, message)
}

// ParseFollowUp parses the detector's tag grammar. The original message
// stands in for instructions when the agent returns none, so downstream
// update passes always have something to act on.
func ParseFollowUp(text, originalMessage string) *FollowUp {
	m := followUpPattern.FindStringSubmatch(text)
	if m != nil {
		content := m[1]
		cmd := commandPattern.FindStringSubmatch(content)
		if cmd != nil {
			command := FollowUpCommand(strings.ToLower(strings.TrimSpace(cmd[1])))
			switch command {
			case CommandMerge, CommandReview, CommandClose, CommandUpdate:
				instructions := ""
				if instr := instructionsPattern.FindStringSubmatch(content); instr != nil {
					instructions = strings.TrimSpace(instr[1])
				}
				if instructions == "" {
					instructions = originalMessage
				}
				return &FollowUp{Command: command, Instructions: instructions}
			}
		}
	}

	if questionPattern.MatchString(text) {
		return nil
	}
	return nil
}
