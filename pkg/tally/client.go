package tally

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/experiment"
	"github.com/randalmurphal/tally/pkg/tally/flush"
	"github.com/randalmurphal/tally/pkg/tally/observability"
	"github.com/randalmurphal/tally/pkg/tally/settings"
	"github.com/randalmurphal/tally/pkg/tally/store"
	"github.com/randalmurphal/tally/pkg/tally/transport"
)

// Client tracks events and serves experiment variants.
// All methods are safe for concurrent use.
type Client struct {
	opts    options
	logger  *slog.Logger
	clock   quartz.Clock
	metrics observability.MetricsRecorder
	device  DeviceInfo

	events      store.Store
	settings    settings.Store
	transport   transport.Transport
	engine      *flush.Engine
	experiments *experiment.Cache
	closers     []io.Closer // stores opened by New

	// identityMu orders identity changes so cache invalidations follow
	// the same sequence as the user ids they belong to.
	identityMu sync.Mutex

	mu          sync.RWMutex
	userID      string
	anonymousID string
	sessionID   string
	superProps  map[string]any // replaced, never mutated
	state       appState

	closed atomic.Bool
}

// New creates a client, starts the periodic flush and begins loading the
// experiment assignments of the current user.
func New(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	tr := o.transport
	if tr == nil {
		topts := []transport.Option{
			transport.WithBaseURL(o.baseURL),
			transport.WithClock(o.clock),
		}
		if o.httpClient != nil {
			topts = append(topts, transport.WithHTTPClient(o.httpClient))
		}
		httpTr, err := transport.NewHTTP(o.apiKey, topts...)
		if err != nil {
			if errors.Is(err, transport.ErrInvalidBaseURL) {
				return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
			}
			return nil, err
		}
		tr = httpTr
	}

	st, err := openStores(&o, o.logger)
	if err != nil {
		return nil, err
	}

	var (
		metrics observability.MetricsRecorder = observability.NoopMetrics{}
		spans   observability.SpanManager     = observability.NoopSpanManager{}
	)
	if o.metrics {
		metrics = observability.NewMetricsRecorder()
	}
	if o.tracing {
		spans = observability.NewSpanManager()
	}

	c := &Client{
		opts:      o,
		logger:    observability.ComponentLogger(o.logger, "client"),
		clock:     o.clock,
		metrics:   metrics,
		device:    o.contextProvider.DeviceInfo(),
		events:    st.events,
		settings:  st.settings,
		transport: tr,
		closers:   st.owned,
		sessionID: uuid.NewString(),
	}
	c.restoreIdentity()
	c.restoreSuperProperties()

	c.engine = flush.New(c.events, tr,
		flush.WithMaxBatchSize(o.maxBatchSize),
		flush.WithBatchDelay(o.batchDelay),
		flush.WithClock(o.clock),
		flush.WithLogger(o.logger),
		flush.WithMetrics(metrics),
		flush.WithSpanManager(spans),
		flush.WithContextBuilder(c.buildContext),
	)
	c.experiments = experiment.New(tr, c.settings,
		experiment.WithTTL(o.experimentTTL),
		experiment.WithClock(o.clock),
		experiment.WithRetry(o.experimentRetry),
		experiment.WithLogger(o.logger),
		experiment.WithMetrics(metrics),
		experiment.WithSpanManager(spans),
	)

	c.engine.Start(o.flushInterval)
	c.experiments.Refresh(c.effectiveUserID())
	c.detectInstallOrUpdate()
	return c, nil
}

// restoreIdentity loads the identified user and the anonymous id, creating
// the latter on first run.
func (c *Client) restoreIdentity() {
	if id, err := c.settings.GetString(settings.KeyUserID); err == nil {
		c.userID = id
	} else if !errors.Is(err, settings.ErrNotFound) {
		observability.LogPersistError(c.logger, "load user id", err)
	}

	id, err := c.settings.GetString(settings.KeyAnonymousID)
	if err == nil && id != "" {
		c.anonymousID = id
		return
	}
	if err != nil && !errors.Is(err, settings.ErrNotFound) {
		observability.LogPersistError(c.logger, "load anonymous id", err)
	}
	c.anonymousID = uuid.NewString()
	c.setString(settings.KeyAnonymousID, c.anonymousID)
}

func (c *Client) restoreSuperProperties() {
	raw, err := c.settings.GetString(settings.KeySuperProperties)
	if err != nil {
		if !errors.Is(err, settings.ErrNotFound) {
			observability.LogPersistError(c.logger, "load super properties", err)
		}
		return
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		c.warn("discarding corrupt super properties", slog.String("error", err.Error()))
		return
	}
	c.superProps = props
}

// Track records an event. It never blocks on the network.
// Invalid names are logged and the event is dropped.
func (c *Client) Track(name string, props map[string]any) {
	c.track(name, props)
}

func (c *Client) track(name string, props map[string]any) {
	ctx := context.Background()
	if c.closed.Load() {
		observability.LogEventRejected(c.logger, name, ErrClientClosed)
		c.metrics.RecordEventRejected(ctx, "closed")
		return
	}
	if err := event.ValidateName(name); err != nil {
		observability.LogEventRejected(c.logger, name, err)
		c.metrics.RecordEventRejected(ctx, "invalid_name")
		return
	}

	c.mu.RLock()
	userID := c.effectiveUserIDLocked()
	sessionID := c.sessionID
	super := c.superProps
	c.mu.RUnlock()

	evt := event.New(name, event.Merge(super, props, c.systemProperties()), userID, sessionID, c.clock.Now())
	if size := event.EncodedSize(evt.Properties); size > event.MaxPropertiesSize {
		c.warn("event properties exceed recommended size",
			slog.String("event", name),
			slog.Int("size", size),
			slog.Int("limit", event.MaxPropertiesSize),
		)
	}

	if err := c.events.Store(evt); err != nil {
		var perr *store.PersistError
		if !errors.As(err, &perr) {
			observability.LogEventRejected(c.logger, name, err)
			c.metrics.RecordEventRejected(ctx, "store")
			return
		}
		observability.LogPersistError(c.logger, "store event", err)
	}
	c.metrics.RecordEventTracked(ctx, event.IsSystemName(name))

	if c.events.EventCount() >= c.opts.maxBatchSize {
		c.engine.FlushAsync(nil)
	}
}

// systemProperties describes the device and app. They override caller
// properties of the same name.
func (c *Client) systemProperties() map[string]any {
	props := make(map[string]any, 6)
	for k, v := range map[string]string{
		"$platform":         c.device.Platform,
		"$os_version":       c.device.OSVersion,
		"$device_model":     c.device.DeviceModel,
		"$app_version":      c.opts.appVersion,
		"$app_build_number": c.opts.appBuild,
		"$environment":      c.opts.environment,
	} {
		if v != "" {
			props[k] = v
		}
	}
	return props
}

// buildContext is called by the flush engine once per batch.
func (c *Client) buildContext() event.Context {
	c.mu.RLock()
	userID := c.effectiveUserIDLocked()
	sessionID := c.sessionID
	c.mu.RUnlock()

	return event.Context{
		Platform:           c.device.Platform,
		OSVersion:          c.device.OSVersion,
		AppVersion:         c.opts.appVersion,
		AppBuildNumber:     c.opts.appBuild,
		DeviceManufacturer: c.device.DeviceManufacturer,
		DeviceModel:        c.device.DeviceModel,
		Locale:             c.device.Locale,
		Timezone:           c.device.Timezone,
		Environment:        c.opts.environment,
		SDK:                transport.SDKName,
		SDKVersion:         transport.SDKVersion,
		UserID:             userID,
		SessionID:          sessionID,
	}
}

// Flush sends buffered events in the background and calls onComplete once
// the flush has finished, whatever its outcome. A flush requested while
// another is running joins it. onComplete may be nil.
func (c *Client) Flush(onComplete func()) {
	c.engine.FlushAsync(func(flush.Report) {
		if onComplete != nil {
			onComplete()
		}
	})
}

// FlushWait blocks until the store is drained or delivery is deferred.
// It returns ctx.Err() if ctx ends first and ErrClientClosed after Shutdown.
// Delivery failures are not returned; events that could not be sent stay
// buffered.
func (c *Client) FlushWait(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	rep := c.engine.Drain(ctx)
	if errors.Is(rep.Err, flush.ErrEngineClosed) {
		return ErrClientClosed
	}
	return ctx.Err()
}

// PendingEvents returns the number of buffered events.
func (c *Client) PendingEvents() int {
	return c.events.EventCount()
}

// Shutdown stops the periodic flush, cancels background work and closes
// the stores the client opened. A batch already being sent completes.
// Buffered events are not flushed; call FlushWait first to send them.
// Calls after the first return nil.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.engine.Close()
		c.experiments.Close()
	}()

	var result *multierror.Error
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("wait for background work: %w", ctx.Err()))
	}

	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		c.warn("shutdown incomplete", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (c *Client) setString(key, value string) {
	if err := c.settings.SetString(key, value); err != nil {
		observability.LogPersistError(c.logger, "set "+key, err)
	}
}

func (c *Client) setInt64(key string, value int64) {
	if err := c.settings.SetInt64(key, value); err != nil {
		observability.LogPersistError(c.logger, "set "+key, err)
	}
}

func (c *Client) deleteKeys(keys ...string) {
	if err := c.settings.Delete(keys...); err != nil {
		observability.LogPersistError(c.logger, "delete settings", err)
	}
}

func (c *Client) warn(msg string, attrs ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, attrs...)
	}
}
