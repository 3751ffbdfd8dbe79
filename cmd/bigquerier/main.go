// cmd/bigquerier/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	http_api "github.com/trafi/big-querier/internal/api/http"
	"github.com/trafi/big-querier/internal/config"
	"github.com/trafi/big-querier/internal/dispatcher"
	"github.com/trafi/big-querier/internal/events"
	"github.com/trafi/big-querier/internal/health"
	"github.com/trafi/big-querier/internal/ingest/nats"
	"github.com/trafi/big-querier/internal/metrics"
	"github.com/trafi/big-querier/internal/partition"
	"github.com/trafi/big-querier/internal/scheduler"
	"github.com/trafi/big-querier/internal/tracing"
	"github.com/trafi/big-querier/internal/usecase"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger and tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer(cfg.Tracing, os.Stdout, logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	logger.Info("starting big-querier", "store", cfg.Store.Kind, "destination_prefix", cfg.Destination.Prefix)

	// 3. Create root context for lifecycle management
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	// 4. Destination store
	store, closeStore, err := newStore(rootCtx, cfg.Store, logger)
	if err != nil {
		logger.Error("failed to create destination store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// 5. Dispatcher with log, metrics and health sinks
	clk := clock.RealClock{}
	period := cfg.Destination.PartitionPeriod()
	schema := usecase.EventContract().Schema()
	healthServer := health.NewServer(logger)

	d, err := dispatcher.New(store, schema, partition.Resolver(cfg.Destination.Prefix, period), dispatcher.Options{
		BatchSize:            cfg.Dispatcher.BatchSize,
		ConcurrentDispatches: cfg.Dispatcher.ConcurrentDispatches,
		MaxQueueLength:       cfg.Dispatcher.MaxQueueLength,
		SendBatchInterval:    cfg.Dispatcher.SendBatchInterval,
		Clock:                clk,
		Sink:                 events.Combine(events.NewLogSink(logger), metrics.NewSink(), healthServer),
		Logger:               logger,
	})
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	ingestService := usecase.NewIngestService(d, store, clk, logger)

	// 6. Destination warmup
	if cfg.Warmup.Enabled {
		locker, closeLocker, err := newLocker(rootCtx, cfg.EtcdEndpoints, cfg.EtcdTimeout, logger)
		if err != nil {
			logger.Error("failed to create task locker", "error", err)
			os.Exit(1)
		}
		defer closeLocker()

		cronScheduler := scheduler.NewCronScheduler(locker, cfg.Warmup.Timeout, logger)
		warmup := scheduler.NewWarmupTask(store, schema, cfg.Destination.Prefix, period, clk, logger)
		if err := cronScheduler.AddTask(scheduler.WarmupTaskName, cfg.Warmup.Schedule, warmup); err != nil {
			logger.Error("failed to schedule warmup", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := warmup(rootCtx); err != nil {
				logger.Warn("initial warmup failed", "error", err)
			}
		}()
		go func() {
			if err := cronScheduler.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped with error", "error", err)
			}
		}()
	}

	// 7. HTTP API and metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	http_api.NewEventHandler(ingestService, d, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	// 8. gRPC health
	if cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			logger.Error("failed to listen for gRPC", "addr", cfg.GrpcListenAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				logger.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// 9. NATS ingest
	var subscriber *nats.Subscriber
	if cfg.Nats.URL != "" {
		nc, err := nats.Connect(cfg.Nats, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		subscriber = nats.NewSubscriber(nc, cfg.Nats.Subject, cfg.Nats.Queue, ingestService, logger)
		if err := subscriber.Start(); err != nil {
			logger.Error("failed to start NATS subscriber", "error", err)
			os.Exit(1)
		}
	}

	// 10. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down application gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	healthServer.SetNotServing()
	if subscriber != nil {
		if err := subscriber.Stop(shutdownCtx); err != nil {
			logger.Error("NATS subscriber shutdown failed", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if err := d.Close(shutdownCtx); err != nil {
		logger.Error("dispatcher did not drain in time", "error", err, "timeout", cfg.ShutdownTimeout)
	}
	healthServer.Stop()

	logger.Info("application shut down")
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
