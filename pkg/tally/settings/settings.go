// Package settings provides the small key/value store the client uses for
// identity, super properties and the experiment snapshot.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Well-known keys.
const (
	KeyUserID              = "userId"
	KeyAnonymousID         = "anonymousId"
	KeyLastAppVersion      = "lastAppVersion"
	KeySuperProperties     = "superProperties"
	KeyIdentifyHash        = "identifyHash"
	KeyIdentifyTimestamp   = "identifyTimestamp"
	KeyExperimentsUserID   = "experimentsUserId"
	KeyExperimentsVariants = "experimentsVariants"
	KeyExperimentsFetched  = "experimentsFetchedAt"
)

// Store is a persistent string/int64 key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetString returns the value for key, or ErrNotFound.
	GetString(key string) (string, error)

	// SetString stores value under key, replacing any previous value.
	SetString(key, value string) error

	// GetInt64 returns the integer value for key, or ErrNotFound.
	GetInt64(key string) (int64, error)

	// SetInt64 stores value under key.
	SetInt64(key string, value int64) error

	// Delete removes keys. Absent keys are ignored.
	Delete(keys ...string) error

	// Close releases any resources.
	Close() error
}

// Sentinel errors for settings operations.
var (
	// ErrNotFound indicates a key has no value.
	ErrNotFound = errors.New("setting not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("settings store closed")
)

func parseInt64(key, raw string) (int64, error) {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}

// Option configures a persistent settings store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for load diagnostics.
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
	o.logger = o.logger.With("component", "settings")
	return o
}
