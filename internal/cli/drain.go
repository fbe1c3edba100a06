package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/agent"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/bus"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/taskqueue"
)

var drainOpts struct {
	subscriber  string
	watch       bool
	metricsAddr string
	sweep       string
}

var drainCmd = &cobra.Command{
	Use:   "drain <pending-file>",
	Short: "Answer the tasks in an agent's pending queue",
	Long: `Drain a pending-task file: claim it, run every message task through the
agent loop and reply to its publisher on the bus. Tasks whose run or reply
fails are put back for the next drain. With --watch the queue is drained
whenever it changes and swept periodically for work abandoned by crashed
consumers.`,
	Args: cobra.ExactArgs(1),
	RunE: runDrain,
}

func init() {
	drainCmd.Flags().StringVar(&drainOpts.subscriber, "subscriber", "", "this agent's bus id (resolved with queue.subscriber_command when empty)")
	drainCmd.Flags().BoolVar(&drainOpts.watch, "watch", false, "keep watching the queue")
	drainCmd.Flags().StringVar(&drainOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")
	drainCmd.Flags().StringVar(&drainOpts.sweep, "sweep", taskqueue.DefaultSweepSpec, "recovery sweep schedule while watching")

	rootCmd.AddCommand(drainCmd)
}

func runDrain(cmd *cobra.Command, args []string) error {
	root, err := workspaceRoot()
	if err != nil {
		return err
	}
	pending, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid pending file: %w", err)
	}
	cfg, err := config.LoadWorkspace(root)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := componentLogger("drain")

	shell := &bus.ShellExecutor{Dir: root, Logger: log}

	subscriber := drainOpts.subscriber
	if subscriber == "" && cfg.Queue.SubscriberCommand != "" {
		subscriber, err = taskqueue.ResolveSubscriber(ctx, shell, cfg.Queue.SubscriberCommand)
		if err != nil {
			log.Warn().Err(err).Msg("Subscriber id unknown")
		}
	}

	var replier bus.Replier
	if cfg.Queue.BusURL != "" {
		replier = &bus.WebSocketReplier{URL: cfg.Queue.BusURL, Publisher: subscriber}
	} else {
		replier = &bus.CommandReplier{Shell: shell, Command: cfg.Queue.ReplyCommand}
	}

	runner, err := agent.NewRunner(agent.Config{Logger: log})
	if err != nil {
		return err
	}
	consumer, err := taskqueue.NewConsumer(taskqueue.Config{
		Runner:        runner,
		Replier:       replier,
		WorkspaceRoot: root,
		Subscriber:    subscriber,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	if active, err := taskqueue.CountActive(pending, taskqueue.DefaultActiveAge); err != nil {
		log.Warn().Err(err).Msg("Could not list queue markers")
	} else if active > 0 {
		fmt.Fprintf(errOut, "warning: %d other consumer(s) are processing %s; their tasks stay with them\n", active, pending)
	}

	if !drainOpts.watch {
		res, err := consumer.DrainAndProcess(ctx, pending)
		printDrainResult(out, errOut, res)
		return err
	}

	if drainOpts.metricsAddr != "" {
		srv := startMetricsServer(drainOpts.metricsAddr, errOut)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	watcher, err := taskqueue.NewWatcher(taskqueue.WatcherConfig{
		Pending:   pending,
		Drainer:   consumer,
		SweepSpec: drainOpts.sweep,
		OnDrain: func(res taskqueue.DrainResult, err error) {
			if res.Handled > 0 || res.Requeued > 0 || res.Recovered > 0 {
				printDrainResult(out, errOut, res)
			}
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return err
	}
	fmt.Fprintf(errOut, "watching %s\n", pending)
	return watcher.Wait(ctx)
}

func printDrainResult(out, errOut io.Writer, res taskqueue.DrainResult) {
	fmt.Fprintf(out, "handled %d, requeued %d, dropped %d, recovered %d\n",
		res.Handled, res.Requeued, res.Dropped, res.Recovered)
	for _, e := range res.Errors {
		fmt.Fprintf(errOut, "error: %s\n", e)
	}
}

func startMetricsServer(addr string, errOut io.Writer) *http.Server {
	observability.EnsureRegistered()
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(errOut, "metrics server: %v\n", err)
		}
	}()
	return srv
}
