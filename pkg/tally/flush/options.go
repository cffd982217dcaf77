package flush

import (
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/observability"
	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// Batch sizing and pacing defaults.
const (
	DefaultMaxBatchSize = 100
	MaxBatchSizeLimit   = 1000
	DefaultBatchDelay   = 100 * time.Millisecond
)

// config holds engine configuration.
type config struct {
	maxBatchSize   int
	batchDelay     time.Duration
	clock          quartz.Clock
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	observers      []func(BatchResult)
	contextBuilder func() event.Context
}

func defaultConfig() config {
	return config{
		maxBatchSize:   DefaultMaxBatchSize,
		batchDelay:     DefaultBatchDelay,
		clock:          quartz.NewReal(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		contextBuilder: defaultContext,
	}
}

func defaultContext() event.Context {
	return event.Context{
		SDK:        transport.SDKName,
		SDKVersion: transport.SDKVersion,
	}
}

// Option configures an Engine.
type Option func(*config)

// WithMaxBatchSize sets how many events are sent per request.
// Values are clamped to [1, MaxBatchSizeLimit].
// Default: 100
func WithMaxBatchSize(n int) Option {
	return func(c *config) {
		c.maxBatchSize = ClampBatchSize(n)
	}
}

// ClampBatchSize bounds n to the accepted batch size range.
func ClampBatchSize(n int) int {
	return max(1, min(n, MaxBatchSizeLimit))
}

// WithBatchDelay sets the pause between successive batch sends.
// Zero disables the pause.
// Default: 100ms
func WithBatchDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.batchDelay = d
		}
	}
}

// WithClock sets the clock used for pacing, the periodic ticker and
// durations. Tests pass a quartz mock.
func WithClock(clock quartz.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger enables flush logging. A nil logger disables it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = observability.ComponentLogger(logger, "flush")
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *config) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithBatchObserver registers fn to be told about every batch outcome,
// including dropped batches. Observers run on the flushing goroutine and
// must not block.
func WithBatchObserver(fn func(BatchResult)) Option {
	return func(c *config) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// WithContextBuilder sets the function that builds the batch context.
// It is called once per batch so identity changes are picked up mid-flush.
func WithContextBuilder(fn func() event.Context) Option {
	return func(c *config) {
		if fn != nil {
			c.contextBuilder = fn
		}
	}
}
