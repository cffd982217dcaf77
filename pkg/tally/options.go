package tally

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/quartz"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/experiment"
	"github.com/randalmurphal/tally/pkg/tally/flush"
	"github.com/randalmurphal/tally/pkg/tally/settings"
	"github.com/randalmurphal/tally/pkg/tally/store"
	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// Defaults applied by New.
const (
	DefaultFlushInterval    = 30 * time.Second
	DefaultIdentifyDebounce = 24 * time.Hour
	DefaultEnvironment      = "production"
)

// StorageKind selects where events and settings are kept.
type StorageKind string

// Storage kinds.
const (
	StorageMemory StorageKind = "memory"
	StorageFile   StorageKind = "file"
	StorageSQLite StorageKind = "sqlite"
)

// options holds client configuration.
type options struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	transport  transport.Transport

	eventStore    store.Store
	settingsStore settings.Store
	storageKind   StorageKind
	storagePath   string

	maxEvents        int
	maxBatchSize     int
	flushInterval    time.Duration
	batchDelay       time.Duration
	experimentTTL    time.Duration
	experimentRetry  tallyerrors.RetryConfig
	identifyDebounce time.Duration

	environment     string
	appVersion      string
	appBuild        string
	contextProvider ContextProvider
	lifecycle       bool

	logger  *slog.Logger
	metrics bool
	tracing bool
	clock   quartz.Clock
}

func defaultOptions() options {
	return options{
		baseURL:          transport.DefaultBaseURL,
		storageKind:      StorageMemory,
		maxEvents:        store.DefaultMaxEvents,
		maxBatchSize:     flush.DefaultMaxBatchSize,
		flushInterval:    DefaultFlushInterval,
		batchDelay:       flush.DefaultBatchDelay,
		experimentTTL:    experiment.DefaultTTL,
		experimentRetry:  tallyerrors.NoRetry,
		identifyDebounce: DefaultIdentifyDebounce,
		environment:      DefaultEnvironment,
		contextProvider:  HostContext{},
		lifecycle:        true,
		logger:           slog.Default(),
		clock:            quartz.NewReal(),
	}
}

func (o *options) validate() error {
	switch {
	case o.maxEvents < 0:
		return fmt.Errorf("%w: max events %d", ErrInvalidOption, o.maxEvents)
	case o.flushInterval < 0:
		return fmt.Errorf("%w: flush interval %s", ErrInvalidOption, o.flushInterval)
	case o.batchDelay < 0:
		return fmt.Errorf("%w: batch delay %s", ErrInvalidOption, o.batchDelay)
	case o.experimentTTL <= 0:
		return fmt.Errorf("%w: experiment ttl %s", ErrInvalidOption, o.experimentTTL)
	}

	switch o.storageKind {
	case StorageMemory:
	case StorageFile, StorageSQLite:
		if o.storagePath == "" && (o.eventStore == nil || o.settingsStore == nil) {
			return fmt.Errorf("%w: %s storage needs a directory", ErrInvalidOption, o.storageKind)
		}
	default:
		return fmt.Errorf("%w: unknown storage kind %q", ErrInvalidOption, o.storageKind)
	}
	return nil
}

// Option configures a Client.
type Option func(*options)

// WithAPIKey sets the project API key. It is required unless WithTransport
// is used.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL points the client at another collector.
// Default: https://ingest.mostlygoodmetrics.com
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

// WithHTTPClient sets the HTTP client used by the default transport.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTransport replaces the HTTP transport. The API key is then optional.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) {
		o.transport = tr
	}
}

// WithEventStore sets the event store. The client does not close stores it
// did not open.
func WithEventStore(st store.Store) Option {
	return func(o *options) {
		o.eventStore = st
	}
}

// WithSettingsStore sets the settings store. The client does not close
// stores it did not open.
func WithSettingsStore(st settings.Store) Option {
	return func(o *options) {
		o.settingsStore = st
	}
}

// WithStorage keeps events and settings under dir using the given kind.
// Stores set with WithEventStore or WithSettingsStore take precedence.
func WithStorage(kind StorageKind, dir string) Option {
	return func(o *options) {
		o.storageKind = kind
		o.storagePath = dir
	}
}

// WithMaxEvents bounds the event store. The oldest events are evicted
// when it is full. Zero means the default.
// Default: 10000
func WithMaxEvents(n int) Option {
	return func(o *options) {
		o.maxEvents = n
	}
}

// WithMaxBatchSize sets how many events go in one request, clamped to
// [1, 1000]. A store holding this many events triggers a flush.
// Default: 100
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		o.maxBatchSize = flush.ClampBatchSize(n)
	}
}

// WithFlushInterval sets the periodic flush interval. Zero disables the
// timer.
// Default: 30s
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithBatchDelay sets the pause between successive batches.
// Default: 100ms
func WithBatchDelay(d time.Duration) Option {
	return func(o *options) {
		o.batchDelay = d
	}
}

// WithExperimentTTL sets how long fetched assignments are reused.
// Default: 24h
func WithExperimentTTL(d time.Duration) Option {
	return func(o *options) {
		o.experimentTTL = d
	}
}

// WithExperimentRetry sets the retry policy for assignment fetches.
// Default: a single attempt.
func WithExperimentRetry(cfg tallyerrors.RetryConfig) Option {
	return func(o *options) {
		o.experimentRetry = cfg
	}
}

// WithIdentifyDebounce sets how long an unchanged profile is not resent.
// Default: 24h
func WithIdentifyDebounce(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.identifyDebounce = d
		}
	}
}

// WithEnvironment tags batches with a deployment environment.
// Default: "production"
func WithEnvironment(env string) Option {
	return func(o *options) {
		if env != "" {
			o.environment = env
		}
	}
}

// WithAppVersion sets the host application version and build. A version
// enables install and update detection.
func WithAppVersion(version, build string) Option {
	return func(o *options) {
		o.appVersion = version
		o.appBuild = build
	}
}

// WithContextProvider sets the device information source.
// Default: HostContext
func WithContextProvider(p ContextProvider) Option {
	return func(o *options) {
		if p != nil {
			o.contextProvider = p
		}
	}
}

// WithLifecycleEvents toggles the $app_installed, $app_updated,
// $app_opened and $app_backgrounded events.
// Default: true
func WithLifecycleEvents(enabled bool) Option {
	return func(o *options) {
		o.lifecycle = enabled
	}
}

// WithLogger sets the logger. A nil logger silences the client.
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics via the global meter provider.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metrics = enabled
	}
}

// WithTracing enables OpenTelemetry spans via the global tracer provider.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

// WithClock sets the clock used for timestamps, timers and TTLs.
func WithClock(clock quartz.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}
