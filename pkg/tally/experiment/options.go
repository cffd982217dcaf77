package experiment

import (
	"log/slog"
	"time"

	"github.com/coder/quartz"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/observability"
)

// DefaultTTL is how long a persisted snapshot may be adopted without
// refetching.
const DefaultTTL = 24 * time.Hour

type config struct {
	ttl     time.Duration
	clock   quartz.Clock
	retry   tallyerrors.RetryConfig
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

func defaultConfig() config {
	return config{
		ttl:     DefaultTTL,
		clock:   quartz.NewReal(),
		retry:   tallyerrors.NoRetry,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures a Cache.
type Option func(*config)

// WithTTL sets the snapshot lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock sets the clock used to age snapshots.
func WithClock(clock quartz.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRetry sets the retry policy for network fetches.
// Default: a single attempt.
func WithRetry(cfg tallyerrors.RetryConfig) Option {
	return func(c *config) {
		c.retry = cfg
	}
}

// WithLogger enables cache logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = observability.ComponentLogger(logger, "experiments")
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
