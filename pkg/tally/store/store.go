// Package store provides the bounded FIFO buffer that holds events until
// they are delivered to the collector.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/tally/pkg/tally/event"
)

// DefaultMaxEvents is the bound used when a store is created with a
// non-positive limit.
const DefaultMaxEvents = 10000

// Store buffers pending events.
// Implementations must be safe for concurrent use.
type Store interface {
	// Store appends evt. When the store is full the oldest events are
	// evicted so that the newest maxEvents are kept.
	// Storing an event whose ClientEventID is already present is a no-op.
	Store(evt event.Event) error

	// FetchEvents returns up to limit events, oldest first, without
	// removing them. A limit <= 0 returns an empty slice.
	FetchEvents(limit int) ([]event.Event, error)

	// RemoveEvents removes the events whose ClientEventID matches one of
	// events. Unknown ids are ignored and survivors keep their order.
	RemoveEvents(events []event.Event) error

	// Clear removes every event.
	Clear() error

	// EventCount returns the number of buffered events.
	EventCount() int

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for store operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("event store closed")
)

// PersistError reports that a mutation was applied in memory but could not
// be written to disk. The in-memory state stays authoritative and the next
// mutation rewrites the whole snapshot.
type PersistError struct {
	Path string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist event snapshot %s: %v", e.Path, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Option configures a persistent store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for load and decode diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func applyOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "store")
	return o
}

func normalizeMax(maxEvents int) int {
	if maxEvents <= 0 {
		return DefaultMaxEvents
	}
	return maxEvents
}
