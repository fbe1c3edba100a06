package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/John-Wang-0809/ufoo-sub001/internal/observability"
	"github.com/John-Wang-0809/ufoo-sub001/internal/tracing"
)

const (
	tracerName    = "ucode/provider"
	readChunkSize = 4096
	maxErrorBody  = 64 * 1024
	eventStreamCT = "text/event-stream"
)

// Config configures a Client.
type Config struct {
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client performs provider turns over either transport.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "provider").Logger(),
	}
}

// Turn sends one request and assembles the streamed response. Text deltas
// are forwarded to req.OnTextDelta as they arrive.
func (c *Client) Turn(ctx context.Context, req TurnRequest) (result TurnResult, err error) {
	if req.URL == "" {
		return TurnResult{}, fmt.Errorf("provider URL is required")
	}
	if req.Transport == "" {
		req.Transport = TransportOpenAIChat
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "provider.turn",
		attribute.String("provider.transport", string(req.Transport)),
		attribute.String("provider.model", req.Model),
		attribute.Int("provider.messages", len(req.Messages)),
	)
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, c.logger)
	defer func() {
		observability.RecordTurn(string(req.Transport), time.Since(start), err == nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("provider.tool_calls", len(result.ToolCalls)))
		}
		span.End()
		logger.Debug().
			Str("transport", string(req.Transport)).
			Dur("duration", time.Since(start)).
			Int("tool_calls", len(result.ToolCalls)).
			Err(err).
			Msg("Provider turn finished")
	}()

	turnCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		turnCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(turnCtx, req)
	if err != nil {
		return TurnResult{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TurnResult{}, classify(ctx, turnCtx, req.Timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return TurnResult{}, &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), eventStreamCT) {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return TurnResult{}, classify(ctx, turnCtx, req.Timeout, err)
		}
		logger.Debug().Int("bytes", len(body)).Msg("Non-streaming provider response")
		if req.Transport == TransportAnthropicMessages {
			return decodeMessage(body, req.OnTextDelta)
		}
		return decodeChatCompletion(body, req.OnTextDelta)
	}

	result, err = readStream(resp.Body, req.Transport, req.OnTextDelta)
	if err != nil {
		return TurnResult{}, classify(ctx, turnCtx, req.Timeout, err)
	}
	return result, nil
}

func (c *Client) newRequest(ctx context.Context, req TurnRequest) (*http.Request, error) {
	var payload interface{}
	if req.Transport == TransportAnthropicMessages {
		payload = buildAnthropicRequest(req)
	} else {
		payload = buildChatRequest(req)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", eventStreamCT)

	if req.Transport == TransportAnthropicMessages {
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		if req.APIKey != "" {
			httpReq.Header.Set("x-api-key", req.APIKey)
		}
	} else if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	return httpReq, nil
}

// readStream decodes an event-stream body until its terminator or EOF.
func readStream(body io.Reader, transport Transport, onDelta func(string)) (TurnResult, error) {
	var (
		decoder  Decoder
		chat     *chatAccumulator
		messages *messagesAccumulator
	)
	if transport == TransportAnthropicMessages {
		messages = newMessagesAccumulator(onDelta)
	} else {
		chat = newChatAccumulator(onDelta)
	}

	handle := func(events []Event) (bool, error) {
		for _, ev := range events {
			var done bool
			var err error
			if messages != nil {
				done, err = messages.handle(ev)
			} else {
				done, err = chat.handle(ev.Data)
			}
			if err != nil || done {
				return done, err
			}
		}
		return false, nil
	}

	finish := func() TurnResult {
		if messages != nil {
			return messages.result()
		}
		return chat.result()
	}

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			done, err := handle(decoder.Feed(buf[:n]))
			if err != nil {
				return TurnResult{}, err
			}
			if done {
				return finish(), nil
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return TurnResult{}, readErr
		}
	}

	if _, err := handle(decoder.Flush()); err != nil {
		return TurnResult{}, err
	}
	return finish(), nil
}

// classify maps transport failures to typed errors. A fired per-turn
// deadline becomes *TimeoutError; caller cancellation is returned as is.
func classify(parent, turnCtx context.Context, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if timeout > 0 && errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout}
	}
	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return err
	}
	return &NetworkError{Err: err}
}
