// cmd/bigquerier/stores.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trafi/big-querier/internal/config"
	"github.com/trafi/big-querier/internal/domain"
	"github.com/trafi/big-querier/internal/infra/bigquery"
	"github.com/trafi/big-querier/internal/infra/etcd"
	webhook "github.com/trafi/big-querier/internal/infra/http"
	"github.com/trafi/big-querier/internal/infra/memory"
	"github.com/trafi/big-querier/internal/infra/postgres"
)

// newStore builds the destination store selected by cfg.Store.Kind. The
// returned func releases its connections.
func newStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (domain.DestinationStore, func(), error) {
	switch cfg.Kind {
	case config.StoreBigQuery:
		client, err := bigquery.NewClient(ctx, cfg.BigQuery)
		if err != nil {
			return nil, nil, err
		}
		store := bigquery.NewStore(client, cfg.BigQuery, logger)
		return store, func() { _ = store.Close() }, nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool, cfg.Postgres, logger), pool.Close, nil

	case config.StoreWebhook:
		return webhook.NewWebhookStore(cfg.Webhook, logger), func() {}, nil

	case config.StoreMemory, "":
		return memory.NewStore(logger), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown store kind %q", domain.ErrInvalidConfig, cfg.Kind)
	}
}

// newLocker returns an etcd locker when endpoints are configured and an
// in-process one otherwise.
func newLocker(ctx context.Context, endpoints []string, timeout time.Duration, logger *slog.Logger) (domain.Locker, func(), error) {
	if len(endpoints) == 0 {
		logger.Info("no etcd endpoints configured, using in-process task locks")
		return memory.NewLocker(), func() {}, nil
	}
	client, err := etcd.NewClient(ctx, endpoints, timeout)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to etcd", "endpoints", endpoints)
	return etcd.NewEtcdLocker(client), func() { _ = client.Close() }, nil
}
