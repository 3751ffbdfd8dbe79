// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/infra/bigquery"
	webhook "github.com/trafi/big-querier/internal/infra/http"
	"github.com/trafi/big-querier/internal/infra/postgres"
	"github.com/trafi/big-querier/internal/ingest/nats"
	"github.com/trafi/big-querier/internal/partition"
	"github.com/trafi/big-querier/internal/tracing"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreBigQuery = "bigquery"
	StorePostgres = "postgres"
	StoreWebhook  = "webhook"
)

// EnvPrefix prefixes every environment override, e.g.
// BIGQUERIER_DISPATCHER_BATCH_SIZE.
const EnvPrefix = "BIGQUERIER"

// Config holds all configuration for our application.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	HttpListenAddr  string        `mapstructure:"http_listen_addr" validate:"required"`
	GrpcListenAddr  string        `mapstructure:"grpc_listen_addr"`
	EtcdEndpoints   []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout     time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Destination DestinationConfig `mapstructure:"destination"`
	Store       StoreConfig       `mapstructure:"store"`
	Warmup      WarmupConfig      `mapstructure:"warmup"`
	Nats        nats.Config       `mapstructure:"nats"`
	Tracing     tracing.Config    `mapstructure:"tracing"`
}

type DispatcherConfig struct {
	BatchSize            int           `mapstructure:"batch_size" validate:"gt=0"`
	ConcurrentDispatches int           `mapstructure:"concurrent_dispatches" validate:"gt=0"`
	MaxQueueLength       int           `mapstructure:"max_queue_length" validate:"gt=0"`
	SendBatchInterval    time.Duration `mapstructure:"send_batch_interval" validate:"gt=0"`
}

// DestinationConfig decides how row times map to destination names.
type DestinationConfig struct {
	Prefix string `mapstructure:"prefix" validate:"required,max=64"`
	Period string `mapstructure:"period" validate:"omitempty,oneof=hour day month"`
}

// PartitionPeriod returns the parsed Period.
func (c DestinationConfig) PartitionPeriod() partition.Period {
	p, err := partition.ParsePeriod(c.Period)
	if err != nil {
		// Period is validated on Load.
		return partition.Day
	}
	return p
}

type StoreConfig struct {
	Kind     string                `mapstructure:"kind" validate:"oneof=memory bigquery postgres webhook"`
	BigQuery bigquery.Config       `mapstructure:"bigquery"`
	Postgres postgres.Config       `mapstructure:"postgres"`
	Webhook  webhook.WebhookConfig `mapstructure:"webhook"`
}

type WarmupConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule" validate:"required_if=Enabled true"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("grpc_listen_addr", ":9090")
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("shutdown_timeout", "30s")

	v.SetDefault("dispatcher.batch_size", 500)
	v.SetDefault("dispatcher.concurrent_dispatches", 1)
	v.SetDefault("dispatcher.max_queue_length", 1_000_000)
	v.SetDefault("dispatcher.send_batch_interval", "2s")

	v.SetDefault("destination.prefix", "events_")
	v.SetDefault("destination.period", "day")

	v.SetDefault("store.kind", StoreMemory)
	v.SetDefault("store.bigquery.project_id", "")
	v.SetDefault("store.bigquery.dataset_id", "")
	v.SetDefault("store.bigquery.location", "")
	v.SetDefault("store.bigquery.credentials_file", "")
	v.SetDefault("store.bigquery.table_expiration", "0s")
	v.SetDefault("store.bigquery.partition_field", "")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.schema", "public")
	v.SetDefault("store.postgres.max_conns", 0)
	v.SetDefault("store.webhook.url", "")
	v.SetDefault("store.webhook.timeout", "10s")
	v.SetDefault("store.webhook.retry.max_retries", 3)
	v.SetDefault("store.webhook.retry.backoff", "1s")

	v.SetDefault("warmup.enabled", false)
	v.SetDefault("warmup.schedule", "0 */15 * * * *")
	v.SetDefault("warmup.timeout", "1m")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "big-querier.events")
	v.SetDefault("nats.queue", "big-querier")
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.max_reconnects", -1)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "big-querier")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.pretty", false)
}

// Load loads configuration from file and environment variables. Extra
// config paths are searched before ./configs and the working directory.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags plus the section of the selected store.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.StructExcept(c, "Store.BigQuery", "Store.Postgres", "Store.Webhook"); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}

	var section any
	switch c.Store.Kind {
	case StoreBigQuery:
		section = c.Store.BigQuery
	case StorePostgres:
		section = c.Store.Postgres
	case StoreWebhook:
		section = c.Store.Webhook
	}
	if section != nil {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("%w: store.%s: %v", domain.ErrInvalidConfig, c.Store.Kind, err)
		}
	}
	return nil
}
