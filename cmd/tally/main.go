package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"tally/internal/backend"
	"tally/internal/cache"
	"tally/internal/cli"
	apphttp "tally/internal/http"
	applog "tally/internal/log"
	"tally/internal/middleware/ratelimit"
	"tally/internal/services"
	"tally/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	txs := services.NewTxService(res.Repo)
	var publisher services.FeedPublisher
	if res.AMQP != nil {
		publisher = res.AMQP
	}
	feed := services.NewFeedService(res.Repo, publisher)
	export := services.NewExportService(txs, res.Sheets)

	sessions := session.NewStore(cfg.SessionMax, cfg.SessionTTL)
	caches := cache.NewManager()
	caches.Register("sessions", sessions.Cleaner())
	caches.StartCleanup(time.Minute)

	checks := make(map[string]apphttp.ReadyCheck, len(res.Checks))
	for name, check := range res.Checks {
		checks[name] = apphttp.ReadyCheck(check)
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Txs:      txs,
		Feed:     feed,
		Export:   export,
		Sessions: sessions,
		Logger:   logger.WithComponent(applog.ComponentHTTP),
		RateLimit: ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitRPM,
			Burst:             cfg.RateLimitBurst,
		},
		Checks: checks,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		caches.Stop()
	})

	logger.Info("Starting tally server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", res.AMQP != nil,
		"export_enabled", cfg.ExportEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
