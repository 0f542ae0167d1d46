package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))
	if cfg.Store != app.StorePostgres {
		logger.Error("worker requires the postgres store", slog.String("store", cfg.Store))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	container, err := app.NewContainer(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("wire services", slog.Any("error", err))
		os.Exit(1)
	}
	defer container.Close()

	handlers := &jobs.Handlers{
		Depletions:  container.Documents,
		Lots:        container.Lots,
		Branches:    container.Catalog,
		Forecasts:   container.Reorder,
		Idempotency: container.Idempotency,
		Retention:   cfg.IdempotencyRetention,
		Logger:      logger,
		Metrics:     metrics.Jobs(),
	}

	lotsTask, err := jobs.NewLotsExpireTask()
	if err != nil {
		logger.Error("build lots expire task", slog.Any("error", err))
		os.Exit(1)
	}
	forecastTask, err := jobs.NewForecastRefreshTask(jobs.ForecastRefreshPayload{WindowDays: 28, HorizonDays: 7})
	if err != nil {
		logger.Error("build forecast task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask()
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: *container.RedisOpts,
		Logger:    logger,
		Handlers:  handlers.TaskHandlers(),
		Cron: []jobs.CronRegistration{
			{Spec: "5 * * * *", Task: lotsTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: forecastTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: cfg.AppReadTimeout}
		go func() {
			logger.Info("serving worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
