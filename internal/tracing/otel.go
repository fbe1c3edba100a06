package tracing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the process-wide tracer provider. Finished
// spans are written to logger at debug level. Later calls are no-ops.
func InitOpenTelemetry(serviceName string, logger zerolog.Logger) error {
	providerOnce.Do(func() {
		tp, err := newTracerProvider(serviceName, NewLogExporter(logger))
		if err != nil {
			providerErr = err
			return
		}

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

func newTracerProvider(serviceName string, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	// Runs are short; a syncer exports each span as it ends so nothing is
	// lost when the CLI exits.
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(contextIDGenerator{}),
		sdktrace.WithSyncer(exporter),
	), nil
}

// ShutdownOpenTelemetry flushes and shuts down the global tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span. A root span joins the trace id already in ctx,
// and a ctx without one receives the span's trace id, so log lines and
// spans of one request share a trace id.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// contextIDGenerator reuses the request trace id for root spans.
type contextIDGenerator struct{}

func (contextIDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	tid, err := trace.TraceIDFromHex(GetTraceID(ctx))
	if err != nil || !tid.IsValid() {
		tid = trace.TraceID(uuid.New())
	}
	return tid, newSpanID()
}

func (contextIDGenerator) NewSpanID(context.Context, trace.TraceID) trace.SpanID {
	return newSpanID()
}

func newSpanID() trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		u := uuid.New()
		copy(sid[:], u[8:])
	}
	return sid
}
