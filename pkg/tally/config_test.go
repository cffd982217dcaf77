package tally

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/tally/pkg/tally/config"
)

func applied(t *testing.T, cfg config.Config) options {
	t.Helper()
	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func TestOptionsFromConfig_Empty(t *testing.T) {
	opts, err := OptionsFromConfig(config.New(nil))
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestOptionsFromConfig_AllKeys(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
api_key: key-123
base_url: http://localhost:8080
environment: staging
app_version: 2.4.0
app_build: "412"
max_events: 500
max_batch_size: 5000
flush_interval: 10s
batch_delay: 0s
experiment_ttl: 1h
identify_debounce: 30m
lifecycle_events: false
metrics: true
tracing: "true"
storage:
  kind: SQLite
  path: /var/lib/app/tally
`))
	require.NoError(t, err)

	o := applied(t, cfg)
	assert.Equal(t, "key-123", o.apiKey)
	assert.Equal(t, "http://localhost:8080", o.baseURL)
	assert.Equal(t, "staging", o.environment)
	assert.Equal(t, "2.4.0", o.appVersion)
	assert.Equal(t, "412", o.appBuild)
	assert.Equal(t, 500, o.maxEvents)
	assert.Equal(t, 1000, o.maxBatchSize, "clamped")
	assert.Equal(t, 10*time.Second, o.flushInterval)
	assert.Zero(t, o.batchDelay)
	assert.Equal(t, time.Hour, o.experimentTTL)
	assert.Equal(t, 30*time.Minute, o.identifyDebounce)
	assert.False(t, o.lifecycle)
	assert.True(t, o.metrics)
	assert.True(t, o.tracing)
	assert.Equal(t, StorageSQLite, o.storageKind)
	assert.Equal(t, "/var/lib/app/tally", o.storagePath)
}

func TestOptionsFromConfig_Env(t *testing.T) {
	t.Setenv("TALLY_API_KEY", "env-key")
	t.Setenv("TALLY_FLUSH_INTERVAL", "1m")
	t.Setenv("TALLY_STORAGE__KIND", "file")
	t.Setenv("TALLY_STORAGE__PATH", "/tmp/tally")

	o := applied(t, config.FromEnv("tally"))
	assert.Equal(t, "env-key", o.apiKey)
	assert.Equal(t, time.Minute, o.flushInterval)
	assert.Equal(t, StorageFile, o.storageKind)
	assert.Equal(t, "/tmp/tally", o.storagePath)
}

func TestOptionsFromConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"unknown kind", map[string]any{"storage": map[string]any{"kind": "tape", "path": "/tmp"}}},
		{"file without path", map[string]any{"storage": map[string]any{"kind": "file"}}},
		{"sqlite without path", map[string]any{"storage.kind": "sqlite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OptionsFromConfig(config.New(tt.data))
			assert.ErrorIs(t, err, ErrInvalidOption)
		})
	}
}

func TestOptionsFromConfig_LaterOptionsWin(t *testing.T) {
	opts, err := OptionsFromConfig(config.New(map[string]any{"environment": "staging"}))
	require.NoError(t, err)

	o := defaultOptions()
	for _, opt := range append(opts, WithEnvironment("dev")) {
		opt(&o)
	}
	assert.Equal(t, "dev", o.environment)
}
