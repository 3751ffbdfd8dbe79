package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/partition"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HttpListenAddr)
	assert.Equal(t, 5*time.Second, cfg.EtcdTimeout)
	assert.Equal(t, 500, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 1, cfg.Dispatcher.ConcurrentDispatches)
	assert.Equal(t, 1_000_000, cfg.Dispatcher.MaxQueueLength)
	assert.Equal(t, 2*time.Second, cfg.Dispatcher.SendBatchInterval)
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.Equal(t, partition.Day, cfg.Destination.PartitionPeriod())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.False(t, cfg.Warmup.Enabled)
	assert.Empty(t, cfg.EtcdEndpoints)
}

func TestLoadFile(t *testing.T) {
	dir := writeConfig(t, `
log_level: debug
dispatcher:
  batch_size: 100
  concurrent_dispatches: 4
  send_batch_interval: 500ms
destination:
  prefix: rides_
  period: hour
store:
  kind: postgres
  postgres:
    dsn: postgres://localhost/bq
warmup:
  enabled: true
  schedule: "0 0 * * * *"
etcd_endpoints: ["etcd-0:2379", "etcd-1:2379"]
`)
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 100, cfg.Dispatcher.BatchSize)
	assert.Equal(t, 4, cfg.Dispatcher.ConcurrentDispatches)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatcher.SendBatchInterval)
	assert.Equal(t, "rides_", cfg.Destination.Prefix)
	assert.Equal(t, partition.Hour, cfg.Destination.PartitionPeriod())
	assert.Equal(t, StorePostgres, cfg.Store.Kind)
	assert.Equal(t, "postgres://localhost/bq", cfg.Store.Postgres.DSN)
	assert.Equal(t, "public", cfg.Store.Postgres.Schema)
	assert.True(t, cfg.Warmup.Enabled)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.EtcdEndpoints)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BIGQUERIER_DISPATCHER_BATCH_SIZE", "42")
	t.Setenv("BIGQUERIER_STORE_KIND", "webhook")
	t.Setenv("BIGQUERIER_STORE_WEBHOOK_URL", "http://sink.local/destinations")
	t.Setenv("BIGQUERIER_SHUTDOWN_TIMEOUT", "1m")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Dispatcher.BatchSize)
	assert.Equal(t, StoreWebhook, cfg.Store.Kind)
	assert.Equal(t, "http://sink.local/destinations", cfg.Store.Webhook.URL)
	assert.Equal(t, 3, cfg.Store.Webhook.Retry.MaxRetries)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{name: "zero batch size", config: "dispatcher:\n  batch_size: 0\n"},
		{name: "unknown period", config: "destination:\n  period: week\n"},
		{name: "unknown store", config: "store:\n  kind: s3\n"},
		{name: "bigquery without project", config: "store:\n  kind: bigquery\n"},
		{name: "webhook without url", config: "store:\n  kind: webhook\n"},
		{name: "bad log level", config: "log_level: verbose\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			assert.ErrorIs(t, err, domain.ErrInvalidConfig)
		})
	}
}

func TestLoadIgnoresUnusedStoreSections(t *testing.T) {
	// The memory store needs no credentials even though the bigquery
	// section is empty.
	cfg, err := Load(writeConfig(t, "store:\n  kind: memory\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Store.BigQuery.ProjectID)
}
