// Package agent invokes the autonomous coding agent as a subprocess and
// parses its streaming JSON event protocol.
package agent

import (
	"context"
	"time"
)

// Request describes one agent invocation.
type Request struct {
	Prompt          string
	WorkDir         string
	SystemPrompt    string
	AllowedTools    []string
	DisallowedTools []string
	Timeout         time.Duration

	// LogLine, when set, receives one line per stream event for the
	// execution log.
	LogLine func(line string)

	// OnProgress fires when the agent's visible activity changes.
	OnProgress func(message string)
}

// Result is the outcome of an agent invocation. On timeout Text still
// carries whatever output accumulated before termination.
type Result struct {
	Success     bool
	Text        string
	Error       string
	LastMessage string
}

// Runner executes agent invocations.
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// ExecutionTools is the default allowlist for code-editing invocations.
// Task is never in any allowlist: sub-agent spawning is always denied.
func ExecutionTools(extra []string) []string {
	tools := []string{"Read", "Glob", "Grep", "Write", "Edit", "Bash"}
	for _, t := range extra {
		if t == taskTool {
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

// ReadOnlyTools is the allowlist for template-filling and review-comment
// calls that must not mutate the worktree.
func ReadOnlyTools() []string {
	return []string{"Read", "Glob", "Grep"}
}

const taskTool = "Task"
