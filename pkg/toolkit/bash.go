package toolkit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	// DefaultBashTimeoutMs is the hard timeout of a bash call.
	DefaultBashTimeoutMs = 60000
	// maxStreamBytes caps each captured output stream.
	maxStreamBytes = 200000
)

type bashArgs struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeoutMs"`
}

// cappedBuffer keeps the first limit bytes and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// runBash runs the command under its own timeout. Caller cancellation does
// not stop a command that has already started.
func runBash(ctx context.Context, root string, args bashArgs) Result {
	if args.Command == "" {
		return failResult("bash failed: command is required")
	}

	timeoutMs := args.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = DefaultBashTimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", args.Command)
	cmd.Dir = root
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{limit: maxStreamBytes}
	stderr := &cappedBuffer{limit: maxStreamBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	timedOut := errors.Is(execCtx.Err(), context.DeadlineExceeded)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return failResult("bash failed: %v", err)
		}
		if exitCode == 0 {
			exitCode = -1
		}
	}

	result := Result{
		OK: exitCode == 0 && !timedOut,
		Fields: map[string]interface{}{
			"command":    args.Command,
			"exitCode":   exitCode,
			"stdout":     stdout.buf.String(),
			"stderr":     stderr.buf.String(),
			"timedOut":   timedOut,
			"truncated":  stdout.truncated || stderr.truncated,
			"durationMs": duration.Milliseconds(),
		},
	}
	switch {
	case timedOut:
		result.Error = fmt.Sprintf("bash failed: command timed out after %dms", timeoutMs)
	case exitCode != 0:
		result.Error = fmt.Sprintf("bash failed: exit code %d", exitCode)
	}
	return result
}
