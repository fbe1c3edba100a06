package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/agent"
)

var runOpts struct {
	session   string
	noSession bool
	provider  string
	model     string
	baseURL   string
	timeout   time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run one task in the workspace",
	Long: `Run one task through the agent loop. Assistant text streams to stdout and
tool activity to stderr. The conversation is saved as a session so it can be
continued with --session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.session, "session", "s", "", "session id to continue (a new session is created when empty)")
	runCmd.Flags().BoolVar(&runOpts.noSession, "no-session", false, "do not load or save a session")
	runCmd.Flags().StringVar(&runOpts.provider, "provider", "", "provider override (openai, anthropic, openrouter, ollama)")
	runCmd.Flags().StringVar(&runOpts.model, "model", "", "model override")
	runCmd.Flags().StringVar(&runOpts.baseURL, "base-url", "", "provider base URL override")
	runCmd.Flags().DurationVar(&runOpts.timeout, "timeout", 0, "task wall-clock budget (default timeout_ms from config)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return fmt.Errorf("prompt is required")
	}

	runner, err := agent.NewRunner(agent.Config{Logger: componentLogger("run")})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	endsWithNewline := true

	params := agent.TaskParams{
		WorkspaceRoot: root,
		Prompt:        prompt,
		Provider:      runOpts.provider,
		Model:         runOpts.model,
		BaseURL:       runOpts.baseURL,
		SessionID:     runOpts.session,
		Timeout:       runOpts.timeout,
		OnStreamDelta: func(delta string) {
			if delta == "" {
				return
			}
			fmt.Fprint(out, delta)
			endsWithNewline = strings.HasSuffix(delta, "\n")
		},
		OnToolEvent: func(ev agent.ToolEvent) {
			printToolEvent(errOut, ev)
		},
	}

	var res agent.TaskResult
	if runOpts.noSession {
		res = runner.RunTask(cmd.Context(), params)
	} else {
		res = runner.RunSession(cmd.Context(), params)
	}

	if !res.Streamed && res.Output != "" {
		fmt.Fprint(out, res.Output)
		endsWithNewline = strings.HasSuffix(res.Output, "\n")
	}
	if !endsWithNewline {
		fmt.Fprintln(out)
	}

	if !runOpts.noSession && res.SessionID != "" && res.OK {
		fmt.Fprintf(errOut, "session: %s\n", res.SessionID)
	}
	if !res.OK {
		if res.Error == "" {
			return errors.New("task failed")
		}
		return errors.New(res.Error)
	}
	return nil
}

func printToolEvent(w io.Writer, ev agent.ToolEvent) {
	switch ev.Phase {
	case agent.ToolEventStart:
		fmt.Fprintf(w, "[tool] %s %s\n", ev.Name, truncate(ev.Arguments, 200))
	case agent.ToolEventError:
		fmt.Fprintf(w, "[tool] %s failed: %s\n", ev.Name, ev.Error)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
