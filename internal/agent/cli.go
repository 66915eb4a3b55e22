package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
)

// ErrEmptyPrompt indicates a blank prompt; no subprocess is started.
var ErrEmptyPrompt = errors.New("agent prompt is empty")

// heartbeatInterval is how often a still-running invocation logs
// liveness. Long silent runs are normal; operators need to tell slow
// from hung.
const heartbeatInterval = 30 * time.Second

// maxLoggedEvent bounds how much of an opaque event line lands in the
// execution log.
const maxLoggedEvent = 400

// CLIRunner invokes the claude CLI in streaming JSON mode.
type CLIRunner struct {
	// Binary overrides the executable name. Empty means "claude".
	Binary string
	// DefaultTimeout applies when the request does not set one.
	DefaultTimeout time.Duration
}

var _ Runner = (*CLIRunner)(nil)

func (r *CLIRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "claude"
}

// Run executes the agent and consumes its event stream until the process
// exits or the deadline passes. Success comes from the terminal result
// event, not the exit code: the agent may exit non-zero after finishing
// its task, and a clean exit without a success event is still a failure.
func (r *CLIRunner) Run(ctx context.Context, req Request) Result {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{Success: false, Error: ErrEmptyPrompt.Error()}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = r.DefaultTimeout
	}
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--print",
		"--verbose",
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	disallowed := req.DisallowedTools
	if !contains(disallowed, taskTool) {
		disallowed = append(disallowed, taskTool)
	}
	args = append(args, "--disallowedTools", strings.Join(disallowed, ","))

	cmd := exec.CommandContext(ctx, r.binary(), args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("creating stdout pipe: %v", err)}
	}
	cmd.Stderr = cmd.Stdout

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Success: false, Error: fmt.Sprintf("starting agent: %v", err)}
	}

	var bytesSeen atomic.Int64
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	hbDone := make(chan struct{})
	defer close(hbDone)
	go func() {
		for {
			select {
			case <-hbDone:
				return
			case <-heartbeat.C:
				elapsed := time.Since(started).Round(time.Second)
				slog.Info("agent still running", "elapsed", elapsed, "outputBytes", bytesSeen.Load())
				if req.LogLine != nil {
					req.LogLine(fmt.Sprintf("still running after %s (%d bytes of output)", elapsed, bytesSeen.Load()))
				}
			}
		}
	}()

	res := r.consume(NewStreamParser(&countingReader{r: stdout, n: &bytesSeen}), req)

	waitErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		res.Success = false
		res.Error = fmt.Sprintf("agent timed out after %s", timeout)
		return res.Result
	}
	if !res.sawResult && waitErr != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = fmt.Sprintf("agent exited: %v", waitErr)
		}
	}
	if !res.sawResult && waitErr == nil && !res.Success {
		res.Error = "agent stream ended without a result event"
	}
	return res.Result
}

type runOutcome struct {
	Result
	sawResult bool
}

func (r *CLIRunner) consume(parser *StreamParser, req Request) runOutcome {
	var out runOutcome
	var text strings.Builder

	log := func(line string) {
		if req.LogLine == nil {
			return
		}
		if len(line) > maxLoggedEvent {
			line = line[:maxLoggedEvent] + "..."
		}
		req.LogLine(line)
	}

	for {
		ev, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("agent stream read error", "error", err)
			break
		}

		switch ev.Kind {
		case EventToolUse:
			out.LastMessage = "Using " + ev.ToolName
			log(out.LastMessage)
			if req.OnProgress != nil {
				req.OnProgress(out.LastMessage)
			}
		case EventText:
			text.WriteString(ev.Text)
		case EventResultSuccess:
			out.sawResult = true
			out.Success = true
			if ev.Text != "" {
				text.Reset()
				text.WriteString(ev.Text)
			}
			log("result: success")
		case EventResultError:
			out.sawResult = true
			out.Success = false
			out.Error = ev.Text
			log("result: error: " + ev.Text)
		case EventOther, EventRaw:
			log(ev.Raw)
		}
	}

	out.Text = text.String()
	return out
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
