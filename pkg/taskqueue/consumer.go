package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
	"github.com/John-Wang-0809/ufoo-sub001/internal/tracing"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/agent"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/bus"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/session"
)

// TaskRunner runs one task through the conversation loop inside a
// persisted session.
type TaskRunner interface {
	RunSession(ctx context.Context, params agent.TaskParams) agent.TaskResult
}

// Config holds configuration for a Consumer.
type Config struct {
	Runner        TaskRunner
	Replier       bus.Replier
	WorkspaceRoot string
	// Subscriber is this consumer's own bus identity, used for logging.
	Subscriber string
	// Params is the template every task run starts from. Prompt,
	// SessionID and WorkspaceRoot are filled per task.
	Params      agent.TaskParams
	RecoveryAge time.Duration
	Logger      zerolog.Logger
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Handled   int
	Errors    []string
	Dropped   int
	Requeued  int
	Recovered int
}

// Consumer drains a pending-task file and answers each task.
type Consumer struct {
	runner      TaskRunner
	replier     bus.Replier
	root        string
	subscriber  string
	params      agent.TaskParams
	recoveryAge time.Duration
	logger      zerolog.Logger
}

// NewConsumer creates a new consumer.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	if cfg.Replier == nil {
		return nil, fmt.Errorf("replier is required")
	}
	if cfg.RecoveryAge <= 0 {
		cfg.RecoveryAge = DefaultRecoveryAge
	}
	return &Consumer{
		runner:      cfg.Runner,
		replier:     cfg.Replier,
		root:        cfg.WorkspaceRoot,
		subscriber:  cfg.Subscriber,
		params:      cfg.Params,
		recoveryAge: cfg.RecoveryAge,
		logger:      cfg.Logger.With().Str("component", "taskqueue").Logger(),
	}, nil
}

// DrainAndProcess recovers stale markers, claims the pending file and
// answers every task in it. Lines whose run or reply fails are appended
// back to the pending file. The returned error is set only when the queue
// files themselves could not be handled.
func (c *Consumer) DrainAndProcess(ctx context.Context, pending string) (DrainResult, error) {
	var result DrainResult

	recovered, err := RecoverStale(pending, c.recoveryAge)
	result.Recovered = recovered
	if err != nil {
		return result, fmt.Errorf("failed to recover stale markers: %w", err)
	}

	marker := MarkerPath(pending, os.Getpid(), time.Now())
	if err := os.Rename(pending, marker); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, fmt.Errorf("failed to claim pending file: %w", err)
	}
	observability.RecordQueueDrain()

	lines, err := readLines(marker)
	if err != nil {
		// Leave the marker for recovery.
		return result, err
	}
	tasks, dropped := ExtractTasks(lines)
	result.Dropped = dropped

	ctx = tracing.WithAgentID(ctx, c.subscriber)
	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().
		Str("marker", filepath.Base(marker)).
		Int("tasks", len(tasks)).
		Int("dropped", dropped).
		Msg("Claimed pending tasks")

	var failed []string
	for i, task := range tasks {
		if ctx.Err() != nil {
			for _, rest := range tasks[i:] {
				failed = append(failed, rest.Raw)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("drain cancelled with %d task(s) left", len(tasks)-i))
			break
		}
		if err := c.process(ctx, task); err != nil {
			failed = append(failed, task.Raw)
			result.Errors = append(result.Errors, err.Error())
			observability.RecordQueueTask(false)
			logger.Warn().
				Err(err).
				Int64("seq", task.Seq).
				Str("publisher", task.Publisher).
				Msg("Task requeued")
			continue
		}
		result.Handled++
		observability.RecordQueueTask(true)
	}

	if err := appendLines(pending, failed); err != nil {
		// The marker still holds every line; recovery will pick it up.
		return result, err
	}
	result.Requeued = len(failed)

	if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("failed to remove marker: %w", err)
	}

	logger.Info().
		Int("handled", result.Handled).
		Int("requeued", result.Requeued).
		Int("dropped", result.Dropped).
		Msg("Drain completed")
	return result, nil
}

// SessionID names the session that carries the conversation with one
// publisher, so each drained task continues that publisher's history.
func SessionID(publisher string) string {
	var sb strings.Builder
	sb.WriteString("queue-")
	for _, r := range strings.TrimSpace(publisher) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == ':', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	id := sb.String()
	if len(id) > 128 {
		id = id[:128]
	}
	return session.ResolveSessionID(id)
}

func (c *Consumer) process(ctx context.Context, task Task) error {
	params := c.params
	params.WorkspaceRoot = c.root
	params.Prompt = task.Data.Message
	params.SessionID = SessionID(task.Publisher)

	ctx = tracing.NewTaskRunContext(ctx, c.subscriber)
	res := c.runner.RunSession(ctx, params)
	if !res.OK {
		msg := res.Error
		if strings.TrimSpace(msg) == "" {
			msg = "task run failed"
		}
		return fmt.Errorf("task from %s failed: %s", task.Publisher, msg)
	}
	if err := c.replier.SendReply(ctx, task.Publisher, res.Output); err != nil {
		return err
	}
	return nil
}
