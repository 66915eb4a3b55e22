package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeAgent writes a shell script standing in for the claude binary.
func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	r := &CLIRunner{}
	res := r.Run(context.Background(), Request{Prompt: "   \n"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrEmptyPrompt.Error(), res.Error)
}

func TestRunSpawnFailure(t *testing.T) {
	r := &CLIRunner{Binary: "definitely-not-a-real-binary-xyz"}
	res := r.Run(context.Background(), Request{Prompt: "do something"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "starting agent")
}

func TestRunSucceedsOnResultEventDespiteNonZeroExit(t *testing.T) {
	bin := writeFakeAgent(t, `cat >/dev/null
echo '{"type":"result","subtype":"success","result":"done"}'
exit 3
`)
	r := &CLIRunner{Binary: bin}
	res := r.Run(context.Background(), Request{Prompt: "apply the change"})
	assert.True(t, res.Success)
	assert.Equal(t, "done", res.Text)
	assert.Empty(t, res.Error)
}

func TestRunFailsOnCleanExitWithoutResultEvent(t *testing.T) {
	bin := writeFakeAgent(t, `cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}'
exit 0
`)
	r := &CLIRunner{Binary: bin}
	res := r.Run(context.Background(), Request{Prompt: "apply the change"})
	assert.False(t, res.Success)
	assert.Equal(t, "agent stream ended without a result event", res.Error)
	assert.Equal(t, "partial", res.Text)
}

func TestRunTimeoutKeepsPartialText(t *testing.T) {
	bin := writeFakeAgent(t, `cat >/dev/null
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}'
sleep 30
`)
	r := &CLIRunner{Binary: bin}
	res := r.Run(context.Background(), Request{Prompt: "apply the change", Timeout: 200 * time.Millisecond})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "agent timed out after")
	assert.Equal(t, "partial", res.Text)
}

func TestConsumeSuccessPayloadReplacesStreamedText(t *testing.T) {
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it..."}]}}
{"type":"result","subtype":"success","result":"final answer"}
`
	r := &CLIRunner{}
	out := r.consume(NewStreamParser(strings.NewReader(input)), Request{})
	assert.True(t, out.Success)
	assert.True(t, out.sawResult)
	assert.Equal(t, "final answer", out.Text)
}

func TestConsumeKeepsAccumulatedTextWithoutResultPayload(t *testing.T) {
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"part one "}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"part two"}]}}
{"type":"result","subtype":"success"}
`
	r := &CLIRunner{}
	out := r.consume(NewStreamParser(strings.NewReader(input)), Request{})
	assert.True(t, out.Success)
	assert.Equal(t, "part one part two", out.Text)
}

func TestConsumeToolUseFiresProgress(t *testing.T) {
	input := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}
{"type":"result","subtype":"success","result":"done"}
`
	var progress []string
	r := &CLIRunner{}
	out := r.consume(NewStreamParser(strings.NewReader(input)), Request{
		OnProgress: func(msg string) { progress = append(progress, msg) },
	})
	assert.Equal(t, []string{"Using Bash"}, progress)
	assert.Equal(t, "Using Bash", out.LastMessage)
}

func TestConsumeErrorResult(t *testing.T) {
	input := `{"type":"result","subtype":"error_max_turns","error":"ran out of turns"}
`
	r := &CLIRunner{}
	out := r.consume(NewStreamParser(strings.NewReader(input)), Request{})
	assert.False(t, out.Success)
	assert.Equal(t, "ran out of turns", out.Error)
}

func TestConsumeLogsOpaqueEventsTruncated(t *testing.T) {
	long := strings.Repeat("z", 1000)
	input := `{"type":"system","subtype":"init","detail":"` + long + `"}` + "\n"

	var logged []string
	r := &CLIRunner{}
	r.consume(NewStreamParser(strings.NewReader(input)), Request{
		LogLine: func(line string) { logged = append(logged, line) },
	})
	require.Len(t, logged, 1)
	assert.LessOrEqual(t, len(logged[0]), maxLoggedEvent+3)
	assert.True(t, strings.HasSuffix(logged[0], "..."))
}

func TestExecutionToolsNeverIncludeTask(t *testing.T) {
	tools := ExecutionTools([]string{"WebFetch", "Task"})
	assert.Contains(t, tools, "WebFetch")
	assert.NotContains(t, tools, "Task")
}
