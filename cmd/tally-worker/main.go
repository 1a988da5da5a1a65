package main

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/backend"
	"tally/internal/cli"
	applog "tally/internal/log"
	"tally/internal/services"
	"tally/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting tally-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	backendCfg.RequireAMQP = true
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	frequency, err := services.ParseFrequency(cfg.RecurringFrequency)
	if err != nil {
		logger.Error("Invalid recurring frequency", applog.FieldError, err)
		os.Exit(1)
	}
	recurring, err := services.NewRecurringProcessor(res.Repo, frequency)
	if err != nil {
		logger.Error("Failed to create recurring processor", applog.FieldError, err)
		os.Exit(1)
	}

	txs := services.NewTxService(res.Repo)
	export := services.NewExportService(txs, res.Sheets)
	feedWorker := worker.NewSyncWorker(services.NewFeedService(res.Repo, nil), export)
	processor := services.NewSyncProcessor(recurring, export, services.SyncProcessorConfig{
		Interval: cfg.SyncInterval,
		Users:    cfg.Users,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Sync processor stop failed", applog.FieldError, err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feedWorker.Run(gctx, res.AMQP)
	})
	g.Go(func() error {
		if len(cfg.Users) == 0 {
			logger.Info("No TALLY_USERS configured, periodic sync disabled")
			return nil
		}
		return processor.Start(gctx)
	})

	logger.Info("Worker running",
		"queue", cfg.AMQPQueue,
		"sync_interval", cfg.SyncInterval,
		"users", len(cfg.Users),
		"frequency", frequency)

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		processed, dropped, failed := feedWorker.Stats()
		logger.Info("Feed sync totals", "processed", processed, "dropped", dropped, "failed", failed)
		_ = processor.Stop(context.Background())
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	processed, dropped, failed := feedWorker.Stats()
	logger.Info("Worker shutdown complete", "processed", processed, "dropped", dropped, "failed", failed)
}
