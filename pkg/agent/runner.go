package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/John-Wang-0809/ufoo-sub001/internal/config"
	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
	"github.com/John-Wang-0809/ufoo-sub001/internal/tracing"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
	"github.com/John-Wang-0809/ufoo-sub001/pkg/toolkit"
)

const (
	// DefaultMaxTurns bounds the provider turns of one task.
	DefaultMaxTurns = 64
	// DefaultTurnTimeout is the per-turn HTTP timeout before the retry.
	DefaultTurnTimeout = 120 * time.Second

	maxRetryTimeoutMs = 1800000
	retryExtraMs      = 120000

	tracerName = "ucode.agent"
)

// Config holds runner configuration
type Config struct {
	Client      TurnClient
	Tools       ToolRunner
	LoadConfig  ConfigLoader
	Logger      zerolog.Logger
	MaxTurns    int
	TurnTimeout time.Duration
}

// Runner drives task runs.
type Runner struct {
	client      TurnClient
	tools       ToolRunner
	loadConfig  ConfigLoader
	logger      zerolog.Logger
	maxTurns    int
	turnTimeout time.Duration
}

// NewRunner creates a runner. Unset collaborators default to the real
// provider client, toolkit.Run and the workspace config loader.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.MaxTurns < 0 {
		return nil, fmt.Errorf("max turns cannot be negative")
	}

	r := &Runner{
		client:      cfg.Client,
		tools:       cfg.Tools,
		loadConfig:  cfg.LoadConfig,
		logger:      cfg.Logger.With().Str("component", "agent").Logger(),
		maxTurns:    cfg.MaxTurns,
		turnTimeout: cfg.TurnTimeout,
	}
	if r.client == nil {
		r.client = provider.NewClient(provider.Config{Logger: cfg.Logger})
	}
	if r.tools == nil {
		r.tools = toolkit.Run
	}
	if r.loadConfig == nil {
		r.loadConfig = config.LoadWorkspace
	}
	if r.maxTurns == 0 {
		r.maxTurns = DefaultMaxTurns
	}
	if r.turnTimeout <= 0 {
		r.turnTimeout = DefaultTurnTimeout
	}
	return r, nil
}

// RetryTimeout is the extended per-turn timeout used after a timed-out
// turn: min(30m, max(2*base, base+2m)).
func RetryTimeout(base time.Duration) time.Duration {
	baseMs := base.Milliseconds()
	retryMs := 2 * baseMs
	if alt := baseMs + retryExtraMs; alt > retryMs {
		retryMs = alt
	}
	if retryMs > maxRetryTimeoutMs {
		retryMs = maxRetryTimeoutMs
	}
	return time.Duration(retryMs) * time.Millisecond
}

// RunTask runs the conversation loop for one prompt.
func (r *Runner) RunTask(ctx context.Context, params TaskParams) TaskResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	if params.SessionID != "" {
		ctx = tracing.WithSessionID(ctx, params.SessionID)
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "agent.run_task",
		attribute.String("session_id", params.SessionID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	result := TaskResult{SessionID: params.SessionID}

	finish := func(err error) TaskResult {
		status := "ok"
		var budgetErr *BudgetError
		switch {
		case err == nil:
		case errors.Is(err, ErrCancelled):
			status = "cancelled"
			result.Cancelled = true
		case errors.As(err, &budgetErr):
			status = "timeout"
		default:
			status = "error"
		}
		if err != nil {
			result.OK = false
			result.Err = err
			result.Error = EnrichError(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn().Err(err).Str("status", status).Msg("Task run failed")
		} else {
			result.OK = true
		}
		observability.RecordTaskRun(result.Provider, time.Since(start), status)
		return result
	}

	stored, err := r.loadConfig(params.WorkspaceRoot)
	if err != nil {
		return finish(fmt.Errorf("failed to load config: %w", err))
	}
	rc := config.Resolve(config.Overrides{
		Provider: params.Provider,
		Model:    params.Model,
		BaseURL:  params.BaseURL,
		APIKey:   params.APIKey,
	}, stored)
	result.Provider = rc.Provider
	result.Model = rc.Model
	if err := rc.Validate(); err != nil {
		return finish(err)
	}
	span.SetAttributes(
		attribute.String("provider", rc.Provider),
		attribute.String("model", rc.Model),
		attribute.String("transport", string(rc.Transport)),
	)

	budget := params.Timeout
	if budget <= 0 && stored != nil && stored.TimeoutMs > 0 {
		budget = time.Duration(stored.TimeoutMs) * time.Millisecond
	}
	if budget <= 0 {
		budget = time.Duration(config.DefaultTimeoutMs) * time.Millisecond
	}

	systemPrompt := params.SystemPrompt
	if systemPrompt == "" && stored != nil {
		systemPrompt = stored.SystemPrompt
	}

	messages := make([]provider.Message, 0, len(params.PriorMessages)+1)
	messages = append(messages, params.PriorMessages...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: params.Prompt})
	result.Messages = messages

	onDelta := func(delta string) {
		if delta == "" {
			return
		}
		result.Streamed = true
		if params.OnStreamDelta != nil {
			params.OnStreamDelta(delta)
		}
	}

	turnReq := provider.TurnRequest{
		Transport:    rc.Transport,
		URL:          provider.ResolveURL(rc.Transport, rc.BaseURL),
		APIKey:       rc.APIKey,
		Model:        rc.Model,
		SystemPrompt: systemPrompt,
		Tools:        toolkit.Definitions(),
		OnTextDelta:  onDelta,
	}

	logger.Debug().
		Str("provider", rc.Provider).
		Str("model", rc.Model).
		Str("transport", string(rc.Transport)).
		Dur("budget", budget).
		Msg("Task run started")

	for turn := 0; ; turn++ {
		if err := ctx.Err(); err != nil {
			return finish(ErrCancelled)
		}
		if time.Since(start) > budget {
			return finish(&BudgetError{BudgetMs: budget.Milliseconds()})
		}
		if turn >= r.maxTurns {
			return finish(&TurnLimitError{Turns: r.maxTurns})
		}

		turnReq.Messages = messages
		turnRes, err := r.turnWithRetry(ctx, turnReq, logger)
		if err != nil {
			if ctx.Err() != nil {
				return finish(ErrCancelled)
			}
			return finish(err)
		}

		if len(turnRes.ToolCalls) == 0 {
			result.Output = turnRes.Text
			if strings.TrimSpace(result.Output) == "" && result.ToolCalls > 0 {
				result.Output = fmt.Sprintf("Completed %d tool call(s).", result.ToolCalls)
			}
			// The stored turn carries the output so a resumed session never
			// holds an empty assistant message.
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: result.Output})
			result.Messages = messages
			return finish(nil)
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   turnRes.Text,
			Blocks:    turnRes.AssistantBlocks,
			ToolCalls: turnRes.ToolCalls,
		})

		for _, call := range turnRes.ToolCalls {
			messages = append(messages, r.executeTool(ctx, params, call, logger))
			result.ToolCalls++
		}
		result.Messages = messages
	}
}

// turnWithRetry runs one turn and retries once with an extended timeout
// when the first attempt timed out.
func (r *Runner) turnWithRetry(ctx context.Context, req provider.TurnRequest, logger zerolog.Logger) (provider.TurnResult, error) {
	forward := req.OnTextDelta
	var streamed strings.Builder
	req.OnTextDelta = func(delta string) {
		streamed.WriteString(delta)
		if forward != nil {
			forward(delta)
		}
	}

	req.Timeout = r.turnTimeout
	res, err := r.client.Turn(ctx, req)

	var timeoutErr *provider.TimeoutError
	if err == nil || !errors.As(err, &timeoutErr) || timeoutErr.Code() != provider.CodeTimeout {
		return res, err
	}
	if ctx.Err() != nil {
		return res, err
	}

	req.Timeout = RetryTimeout(r.turnTimeout)
	logger.Warn().
		Dur("timeout", r.turnTimeout).
		Dur("retry_timeout", req.Timeout).
		Msg("Provider turn timed out, retrying")
	replay := &replayFilter{shown: streamed.String(), forward: forward}
	req.OnTextDelta = replay.write
	return r.client.Turn(ctx, req)
}

// replayFilter drops the part of a retried turn's stream that the timed-out
// attempt already delivered. When the retry diverges from it, a newline
// separates the restarted text.
type replayFilter struct {
	shown    string
	matched  int
	diverged bool
	forward  func(string)
}

func (f *replayFilter) write(delta string) {
	if f.forward == nil || delta == "" {
		return
	}
	if f.diverged {
		f.forward(delta)
		return
	}

	rest := f.shown[f.matched:]
	n := 0
	for n < len(rest) && n < len(delta) && rest[n] == delta[n] {
		n++
	}
	switch {
	case n == len(delta):
		f.matched += n
	case n == len(rest):
		f.matched += n
		f.diverged = true
		f.forward(delta[n:])
	default:
		f.diverged = true
		f.forward("\n" + f.shown[:f.matched] + delta)
	}
}

func (r *Runner) executeTool(ctx context.Context, params TaskParams, call provider.ToolCall, logger zerolog.Logger) provider.Message {
	emit := func(ev ToolEvent) {
		if params.OnToolEvent != nil {
			params.OnToolEvent(ev)
		}
	}

	emit(ToolEvent{Phase: ToolEventStart, CallID: call.ID, Name: call.Name, Arguments: call.Arguments})

	res := r.tools(ctx, call.Name, call.Arguments, toolkit.Options{WorkspaceRoot: params.WorkspaceRoot})
	if !res.OK {
		logger.Debug().Str("tool", call.Name).Str("error", res.Error).Msg("Tool call failed")
		emit(ToolEvent{Phase: ToolEventError, CallID: call.ID, Name: call.Name, Result: &res, Error: res.Error})
	}
	emit(ToolEvent{Phase: ToolEventEnd, CallID: call.ID, Name: call.Name, Result: &res, Error: res.Error})

	return provider.Message{
		Role:       provider.RoleTool,
		ToolCallID: call.ID,
		Content:    res.JSON(),
		IsError:    !res.OK,
	}
}
