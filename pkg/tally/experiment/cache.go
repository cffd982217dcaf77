// Package experiment caches the server-assigned experiment variants for the
// current user.
//
// The server is the only source of assignments. A fetched map is persisted
// with the user it belongs to and the fetch time, and is adopted without
// network I/O while it is younger than the TTL. Changing identity
// invalidates both copies.
package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/observability"
	"github.com/randalmurphal/tally/pkg/tally/settings"
)

// Fetcher retrieves the variants assigned to a user.
type Fetcher interface {
	FetchExperiments(ctx context.Context, userID string) (map[string]string, error)
}

// ErrInvalidated is returned by Load when the cache was invalidated while
// the fetch was in flight. The result is discarded.
var ErrInvalidated = errors.New("experiment cache invalidated during fetch")

// ErrCacheClosed is returned by Load after Close.
var ErrCacheClosed = errors.New("experiment cache closed")

// Source values reported to metrics and logs.
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Cache holds the variant map for the current user.
type Cache struct {
	fetcher  Fetcher
	settings settings.Store
	cfg      config

	mu         sync.RWMutex
	variants   map[string]string
	userID     string
	loaded     bool
	generation uint64
	ready      chan struct{}
	callbacks  []func()
	closed     bool

	group  singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an empty cache. Nothing is fetched until Refresh or Load.
func New(f Fetcher, st settings.Store, opts ...Option) *Cache {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		fetcher:  f,
		settings: st,
		cfg:      cfg,
		variants: map[string]string{},
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Refresh runs a fetch cycle for userID in the background. The cycle
// belongs to the current generation, so an Invalidate issued after Refresh
// returns discards it.
func (c *Cache) Refresh(userID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_ = c.load(c.ctx, userID, gen)
	}()
}

// Load runs a fetch cycle for userID and waits for it.
// Concurrent cycles for the same user and generation share one fetch.
//
// A fetch failure is returned but still completes the cycle: the previous
// map is kept and the cache is marked loaded.
func (c *Cache) Load(ctx context.Context, userID string) error {
	c.mu.RLock()
	gen, closed := c.generation, c.closed
	c.mu.RUnlock()
	if closed {
		return ErrCacheClosed
	}
	return c.load(ctx, userID, gen)
}

func (c *Cache) load(ctx context.Context, userID string, gen uint64) error {
	key := fmt.Sprintf("%d/%s", gen, userID)
	_, err, _ := c.group.Do(key, func() (any, error) {
		return nil, c.cycle(ctx, userID, gen)
	})
	return err
}

func (c *Cache) cycle(ctx context.Context, userID string, gen uint64) (err error) {
	ctx, span := c.cfg.spans.StartExperimentsSpan(ctx, userID)
	defer func() { c.cfg.spans.EndSpanWithError(span, err) }()

	if variants, ok := c.snapshot(userID); ok {
		if !c.complete(gen, userID, variants, false) {
			return ErrInvalidated
		}
		c.cfg.metrics.RecordExperimentFetch(ctx, SourceCache, true)
		c.cfg.spans.AddSpanEvent(ctx, "snapshot_adopted")
		observability.LogExperimentsLoaded(c.cfg.logger, userID, SourceCache, len(variants))
		return nil
	}

	retry := c.cfg.retry
	if retry.Clock == nil {
		retry.Clock = c.cfg.clock
	}
	res := tallyerrors.WithRetryContext(ctx, retry, func(ctx context.Context) (map[string]string, error) {
		return c.fetcher.FetchExperiments(ctx, userID)
	})
	c.cfg.metrics.RecordExperimentFetch(ctx, SourceNetwork, res.Err == nil)

	if res.Err != nil {
		observability.LogExperimentsFailed(c.cfg.logger, userID, res.Err)
		if !c.complete(gen, userID, nil, false) {
			return ErrInvalidated
		}
		return res.Err
	}

	variants := res.Value
	if variants == nil {
		variants = map[string]string{}
	}
	if !c.complete(gen, userID, variants, true) {
		return ErrInvalidated
	}
	observability.LogExperimentsLoaded(c.cfg.logger, userID, SourceNetwork, len(variants))
	return nil
}

// snapshot returns the persisted variants for userID if they are fresh.
func (c *Cache) snapshot(userID string) (map[string]string, bool) {
	owner, err := c.settings.GetString(settings.KeyExperimentsUserID)
	if err != nil || owner != userID {
		return nil, false
	}
	fetchedAt, err := c.settings.GetInt64(settings.KeyExperimentsFetched)
	if err != nil {
		return nil, false
	}
	age := c.cfg.clock.Now().UnixMilli() - fetchedAt
	if age < 0 || age >= c.cfg.ttl.Milliseconds() {
		return nil, false
	}
	raw, err := c.settings.GetString(settings.KeyExperimentsVariants)
	if err != nil {
		return nil, false
	}
	variants := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &variants); err != nil {
		if c.cfg.logger != nil {
			c.cfg.logger.Warn("discarding unreadable experiment snapshot", "error", err)
		}
		return nil, false
	}
	return variants, true
}

// complete finishes a cycle of generation gen. variants replaces the map
// when non-nil and is persisted when persist is set. It reports false and
// changes nothing if the generation is stale.
func (c *Cache) complete(gen uint64, userID string, variants map[string]string, persist bool) bool {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return false
	}

	if variants != nil {
		c.variants = variants
		c.userID = userID
	}
	if persist {
		c.persistLocked(userID, variants)
	}

	var callbacks []func()
	if !c.loaded {
		c.loaded = true
		close(c.ready)
		callbacks = c.callbacks
		c.callbacks = nil
	}
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
	return true
}

func (c *Cache) persistLocked(userID string, variants map[string]string) {
	data, err := json.Marshal(variants)
	if err != nil {
		observability.LogPersistError(c.cfg.logger, "experiments", err)
		return
	}
	err = errors.Join(
		c.settings.SetString(settings.KeyExperimentsUserID, userID),
		c.settings.SetString(settings.KeyExperimentsVariants, string(data)),
		c.settings.SetInt64(settings.KeyExperimentsFetched, c.cfg.clock.Now().UnixMilli()),
	)
	if err != nil {
		observability.LogPersistError(c.cfg.logger, "experiments", err)
	}
}

// Variant returns the variant assigned for experimentID.
// Blank ids are never assigned.
func (c *Cache) Variant(experimentID string) (string, bool) {
	if strings.TrimSpace(experimentID) == "" {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[experimentID]
	return v, ok
}

// Variants returns a copy of the current map.
func (c *Cache) Variants() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.variants)
}

// UserID returns the user the current map belongs to, or "" if none.
func (c *Cache) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Loaded reports whether the current generation finished a fetch cycle.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Ready blocks until the current generation is loaded or ctx is done.
// An invalidation while waiting extends the wait to the next generation.
func (c *Cache) Ready(ctx context.Context) error {
	for {
		c.mu.RLock()
		loaded, ready := c.loaded, c.ready
		c.mu.RUnlock()
		if loaded {
			return nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnReady calls fn once the current generation is loaded. If it already
// is, fn runs before OnReady returns. Callbacks pending at an invalidation
// fire when the next generation loads.
func (c *Cache) OnReady(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.loaded {
		c.mu.Unlock()
		fn()
		return
	}
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// Invalidate forgets the current map and the persisted snapshot. Cycles
// still in flight are discarded when they complete.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.variants = map[string]string{}
	c.userID = ""
	if c.loaded {
		c.ready = make(chan struct{})
		c.loaded = false
	}

	err := c.settings.Delete(
		settings.KeyExperimentsUserID,
		settings.KeyExperimentsVariants,
		settings.KeyExperimentsFetched,
	)
	if err != nil {
		observability.LogPersistError(c.cfg.logger, "experiments", err)
	}
}

// Close cancels background cycles and waits for them to return.
// The settings store is left open.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
