package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the tally tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer(MeterName)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartFlushSpan starts a span covering one flush.
	StartFlushSpan(ctx context.Context, pending int) (context.Context, trace.Span)

	// StartBatchSpan starts a span for one batch send, a child of the flush span.
	StartBatchSpan(ctx context.Context, size int) (context.Context, trace.Span)

	// StartExperimentsSpan starts a span for an experiment fetch cycle.
	StartExperimentsSpan(ctx context.Context, userID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartFlushSpan starts a span for a flush.
func (m *otelSpanManager) StartFlushSpan(ctx context.Context, pending int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tally.flush",
		trace.WithAttributes(
			attribute.Int("flush.pending", pending),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartBatchSpan starts a span for a batch send.
func (m *otelSpanManager) StartBatchSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tally.batch",
		trace.WithAttributes(
			attribute.Int("batch.size", size),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartExperimentsSpan starts a span for an experiment fetch cycle.
func (m *otelSpanManager) StartExperimentsSpan(ctx context.Context, userID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tally.experiments.fetch",
		trace.WithAttributes(
			attribute.String("user.id", userID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
