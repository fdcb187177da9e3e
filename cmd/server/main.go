// Command server starts the essay correction HTTP server.
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

	httpserver "github.com/ubtguoyi/writing/internal/adapter/httpserver"
	"github.com/ubtguoyi/writing/internal/adapter/observability"
	"github.com/ubtguoyi/writing/internal/adapter/queue/inline"
	"github.com/ubtguoyi/writing/internal/adapter/queue/redpanda"
	"github.com/ubtguoyi/writing/internal/app"
	"github.com/ubtguoyi/writing/internal/config"
	"github.com/ubtguoyi/writing/internal/domain"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	themes, err := config.LoadStoryThemes(cfg.StoryThemesPath)
	if err != nil {
		slog.Warn("story themes unavailable, using defaults", slog.Any("error", err))
		themes = config.StoryThemes{Themes: config.DefaultStoryThemes}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	// Queue: inline runs the chain in this process; redpanda hands it to cmd/worker.
	var (
		queue      domain.Queue
		inlineQ    *inline.Queue
		closeQueue = func() {}
	)
	switch strings.ToLower(cfg.QueueBackend) {
	case config.QueueRedpanda:
		producer, err := redpanda.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		queue = producer
		closeQueue = func() {
			if err := producer.Close(); err != nil {
				slog.Error("failed to close queue client", slog.Any("error", err))
			}
		}
	default:
		inlineQ = inline.New(cfg.InlineConcurrency, nil)
		queue = inlineQ
	}

	limiter, closeLimiter, err := app.OpenWorkflowLimiter(ctx, cfg)
	if err != nil {
		slog.Error("workflow rate limiter init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeLimiter()

	svcs := app.NewServices(cfg, store, queue, themes, limiter)
	if inlineQ != nil {
		inlineQ.SetHandler(svcs.Corrections.Process)
		// no separate worker in inline mode, so the server sweeps stale records itself
		if sweeper := app.NewStaleRecordSweeper(svcs.Records, cfg.StaleProcessingAfter, cfg.StaleSweepInterval); sweeper != nil {
			go sweeper.Run(ctx)
		}
	}

	srv := httpserver.NewServer(cfg, svcs.Corrections, svcs.Stories, svcs.ErrorBook, app.BuildReadinessChecks(store, queue)...)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("store", cfg.StoreBackend), slog.String("queue", cfg.QueueBackend))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	stop()
	if inlineQ != nil {
		if err := inlineQ.Close(shutdownCtx); err != nil {
			slog.Warn("in-flight corrections did not finish before shutdown", slog.Any("error", err))
		}
	}
	closeQueue()
}
