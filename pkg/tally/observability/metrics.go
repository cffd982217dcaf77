package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for tally metrics and spans.
const MeterName = "tally"

// MetricsRecorder records tally metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEventTracked counts an event accepted into the store.
	RecordEventTracked(ctx context.Context, system bool)

	// RecordEventRejected counts an event refused by validation or storage.
	RecordEventRejected(ctx context.Context, reason string)

	// RecordBatch records one batch send with its outcome.
	RecordBatch(ctx context.Context, outcome string, size int, duration time.Duration)

	// RecordFlush records one flush invocation.
	RecordFlush(ctx context.Context, coalesced bool, duration time.Duration)

	// RecordExperimentFetch records one experiment fetch cycle.
	// source is "cache" or "network".
	RecordExperimentFetch(ctx context.Context, source string, success bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsTracked     metric.Int64Counter
	eventsRejected    metric.Int64Counter
	batchesSent       metric.Int64Counter
	batchSize         metric.Int64Histogram
	batchLatency      metric.Float64Histogram
	flushRuns         metric.Int64Counter
	flushLatency      metric.Float64Histogram
	experimentFetches metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(MeterName)

	eventsTracked, err := meter.Int64Counter("tally.events.tracked",
		metric.WithDescription("Number of events accepted into the store"),
	)
	if err != nil {
		return nil, err
	}

	eventsRejected, err := meter.Int64Counter("tally.events.rejected",
		metric.WithDescription("Number of events refused before storage"),
	)
	if err != nil {
		return nil, err
	}

	batchesSent, err := meter.Int64Counter("tally.batches.sent",
		metric.WithDescription("Number of batch send attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Histogram("tally.batch.size",
		metric.WithDescription("Events per batch"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	batchLatency, err := meter.Float64Histogram("tally.batch.latency_ms",
		metric.WithDescription("Batch send latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	flushRuns, err := meter.Int64Counter("tally.flush.runs",
		metric.WithDescription("Number of flush invocations"),
	)
	if err != nil {
		return nil, err
	}

	flushLatency, err := meter.Float64Histogram("tally.flush.latency_ms",
		metric.WithDescription("Flush latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	experimentFetches, err := meter.Int64Counter("tally.experiments.fetches",
		metric.WithDescription("Number of experiment fetch cycles"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsTracked:     eventsTracked,
		eventsRejected:    eventsRejected,
		batchesSent:       batchesSent,
		batchSize:         batchSize,
		batchLatency:      batchLatency,
		flushRuns:         flushRuns,
		flushLatency:      flushLatency,
		experimentFetches: experimentFetches,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEventTracked counts a stored event.
func (m *otelMetrics) RecordEventTracked(ctx context.Context, system bool) {
	m.eventsTracked.Add(ctx, 1, metric.WithAttributes(attribute.Bool("system", system)))
}

// RecordEventRejected counts a rejected event.
func (m *otelMetrics) RecordEventRejected(ctx context.Context, reason string) {
	m.eventsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBatch records a batch send.
func (m *otelMetrics) RecordBatch(ctx context.Context, outcome string, size int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.batchesSent.Add(ctx, 1, attrs)
	m.batchSize.Record(ctx, int64(size), attrs)
	m.batchLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

// RecordFlush records a flush.
func (m *otelMetrics) RecordFlush(ctx context.Context, coalesced bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("coalesced", coalesced))
	m.flushRuns.Add(ctx, 1, attrs)
	if !coalesced {
		m.flushLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	}
}

// RecordExperimentFetch records an experiment fetch cycle.
func (m *otelMetrics) RecordExperimentFetch(ctx context.Context, source string, success bool) {
	m.experimentFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}
