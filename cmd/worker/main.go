// Package main provides the worker application entry point.
// The worker runs essay correction chains consumed from the Redpanda queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/adapter/queue/redpanda"
	"github.com/ubtguoyi/writing/internal/app"
	"github.com/ubtguoyi/writing/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	if strings.ToLower(cfg.QueueBackend) != config.QueueRedpanda {
		slog.Error("worker requires QUEUE_BACKEND=redpanda", slog.String("queue", cfg.QueueBackend))
		os.Exit(1)
	}
	if strings.ToLower(cfg.StoreBackend) == config.StoreMemory {
		slog.Warn("worker is using the in-memory store; results will not be visible to the server")
	}

	observability.InitMetrics()
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	// The worker never submits, so the producer only serves the service wiring.
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = producer.Close() }()

	limiter, closeLimiter, err := app.OpenWorkflowLimiter(ctx, cfg)
	if err != nil {
		slog.Error("workflow rate limiter init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLimiter()

	svcs := app.NewServices(cfg, store, producer, config.StoryThemes{}, limiter)

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic, cfg.InlineConcurrency, svcs.Corrections.Process)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close worker", slog.Any("error", err))
		}
	}()

	if sweeper := app.NewStaleRecordSweeper(svcs.Records, cfg.StaleProcessingAfter, cfg.StaleSweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		slog.Info("starting redpanda consumer", slog.String("topic", cfg.KafkaTopic), slog.String("group", cfg.KafkaGroupID))
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case <-consumerDone:
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		slog.Warn("consumer did not stop before shutdown timeout")
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	slog.Info("worker stopped")
}
