package bus

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultShellTimeout bounds a single collaborator command.
const DefaultShellTimeout = 30 * time.Second

// ShellResult is the outcome of a shell command.
type ShellResult struct {
	OK     bool
	Output string
	Error  string
}

// Shell runs one command synchronously.
type Shell interface {
	Exec(ctx context.Context, command string) ShellResult
}

// ShellExecutor runs commands with bash -c.
type ShellExecutor struct {
	Dir     string
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Exec runs command and returns its trimmed combined output.
func (s *ShellExecutor) Exec(ctx context.Context, command string) ShellResult {
	if strings.TrimSpace(command) == "" {
		return ShellResult{Error: "command is required"}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "bash", "-c", command)
	cmd.Dir = s.Dir
	cmd.WaitDelay = time.Second

	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		msg := output
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			msg = "command timed out after " + timeout.String()
		} else if msg == "" {
			msg = err.Error()
		}
		s.Logger.Debug().Str("command", command).Err(err).Msg("Shell command failed")
		return ShellResult{OK: false, Output: output, Error: msg}
	}
	return ShellResult{OK: true, Output: output}
}

// Quote returns s as a single-quoted POSIX shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
