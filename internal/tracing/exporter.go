package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans as debug log events.
type LogExporter struct {
	logger zerolog.Logger
}

// NewLogExporter returns an exporter logging to logger.
func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		sc := s.SpanContext()
		event := e.logger.Debug().
			Str("span", s.Name()).
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime()))
		if parent := s.Parent(); parent.IsValid() {
			event = event.Str("parent_span_id", parent.SpanID().String())
		}
		for _, kv := range s.Attributes() {
			event = event.Str(string(kv.Key), kv.Value.Emit())
		}
		if status := s.Status(); status.Code == codes.Error {
			event = event.Str("status", "error").Str("status_message", status.Description)
		}
		event.Msg("Span finished")
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
