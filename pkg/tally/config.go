package tally

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/tally/pkg/tally/config"
)

// OptionsFromConfig translates configuration keys into options. Keys that
// are absent leave the defaults in place. Options passed to New after
// these override them.
//
// Recognised keys:
//
//	api_key, base_url, environment, app_version, app_build
//	max_events, max_batch_size
//	flush_interval, batch_delay, experiment_ttl, identify_debounce
//	lifecycle_events, metrics, tracing
//	storage.kind (memory, file or sqlite), storage.path
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option

	if cfg.Has("api_key") {
		opts = append(opts, WithAPIKey(cfg.String("api_key", "")))
	}
	if cfg.Has("base_url") {
		opts = append(opts, WithBaseURL(cfg.String("base_url", "")))
	}
	if cfg.Has("environment") {
		opts = append(opts, WithEnvironment(cfg.String("environment", "")))
	}
	if cfg.Has("app_version") || cfg.Has("app_build") {
		opts = append(opts, WithAppVersion(cfg.String("app_version", ""), cfg.String("app_build", "")))
	}

	if cfg.Has("max_events") {
		opts = append(opts, WithMaxEvents(cfg.Int("max_events", 0)))
	}
	if cfg.Has("max_batch_size") {
		opts = append(opts, WithMaxBatchSize(cfg.Int("max_batch_size", 0)))
	}

	if cfg.Has("flush_interval") {
		opts = append(opts, WithFlushInterval(cfg.Duration("flush_interval", DefaultFlushInterval)))
	}
	if cfg.Has("batch_delay") {
		opts = append(opts, WithBatchDelay(cfg.Duration("batch_delay", 0)))
	}
	if cfg.Has("experiment_ttl") {
		opts = append(opts, WithExperimentTTL(cfg.Duration("experiment_ttl", 0)))
	}
	if cfg.Has("identify_debounce") {
		opts = append(opts, WithIdentifyDebounce(cfg.Duration("identify_debounce", DefaultIdentifyDebounce)))
	}

	if cfg.Has("lifecycle_events") {
		opts = append(opts, WithLifecycleEvents(cfg.Bool("lifecycle_events", true)))
	}
	if cfg.Has("metrics") {
		opts = append(opts, WithMetrics(cfg.Bool("metrics", false)))
	}
	if cfg.Has("tracing") {
		opts = append(opts, WithTracing(cfg.Bool("tracing", false)))
	}

	if cfg.Has("storage.kind") || cfg.Has("storage.path") {
		kind := StorageKind(strings.ToLower(cfg.String("storage.kind", string(StorageMemory))))
		path := cfg.String("storage.path", "")
		switch kind {
		case StorageMemory:
		case StorageFile, StorageSQLite:
			if path == "" {
				return nil, fmt.Errorf("%w: storage.path is required for %s storage", ErrInvalidOption, kind)
			}
		default:
			return nil, fmt.Errorf("%w: unknown storage.kind %q", ErrInvalidOption, kind)
		}
		opts = append(opts, WithStorage(kind, path))
	}

	return opts, nil
}
