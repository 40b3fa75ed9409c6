package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"burnrate/internal/amqp"
	"burnrate/internal/auth"
	"burnrate/internal/cache"
	"burnrate/internal/cli"
	"burnrate/internal/currency"
	"burnrate/internal/export/sheets"
	apphttp "burnrate/internal/http"
	"burnrate/internal/log"
	"burnrate/internal/monobank"
	"burnrate/internal/services"
)

func main() {
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat).WithComponent(log.ComponentApp)
	loc := cfg.Location()

	logger.Info("Starting burnrate", "backend", cfg.DataBackend, "timezone", loc.String())

	res := cli.InitStore(context.Background(), logger, cfg)
	store := res.Store

	bank := monobank.New(cfg.MonobankBaseURL, nil, logger)
	rates := currency.NewCachedSource(bank, cfg.RateCacheTTL, logger)
	rules := cli.LoadRules(logger, cfg)
	tokens := cli.InitTokens(logger, cfg, store)

	budget := services.NewBudgetService(store, rates, rules, services.BudgetConfig{
		Location:  loc,
		CacheTTL:  services.DefaultBudgetConfig().CacheTTL,
		CacheSize: services.DefaultBudgetConfig().CacheSize,
	}, logger)
	if cfg.ExportEnabled() {
		exp, err := sheets.New(context.Background(), sheets.Config{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			Location:           loc,
		}, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets export", log.FieldError, err)
			os.Exit(1)
		}
		budget.SetExporter(exp)
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}

	caches := cache.NewManager()
	for _, c := range budget.Caches() {
		caches.Register(c)
	}
	caches.StartCleanup(time.Minute)

	settings := services.NewSettingsService(store, tokens, bank, budget, logger)
	categories := services.NewCategoryService(store, budget)

	// Without a broker, syncs and the stale-data revalidation run here.
	var (
		syncAPI     apphttp.SyncAPI
		syncSvc     *services.SyncService
		revalidator *services.Revalidator
		amqpClient  *amqp.Client
	)
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		queued := services.NewQueuedSync(store, amqpClient, logger)
		syncAPI, syncSvc = queued, queued.SyncService
		logger.Info("Syncs are queued to the worker", "queue", cfg.AMQPQueue)
	} else {
		orchestrator := cli.NewSyncer(logger, cfg, bank, tokens, store)
		syncSvc = services.NewSyncService(orchestrator, store, budget, logger)
		syncAPI = syncSvc
		revalidator = services.NewRevalidator(store, syncSvc, services.RevalidatorConfig{
			Interval: cfg.RevalidateInterval,
			Jitter:   cfg.RevalidateJitter,
		}, logger)
		logger.Info("Syncs run in-process")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Budget:     budget,
		Settings:   settings,
		Categories: categories,
		Sync:       syncAPI,
		Auth:       auth.NewVerifier(cfg.JWTSecret),
		Ready:      store,
		Location:   loc,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if revalidator != nil {
			if err := revalidator.Stop(ctx); err != nil {
				logger.Error("Revalidator shutdown error", log.FieldError, err)
			}
		}
		if err := syncSvc.Shutdown(ctx); err != nil {
			logger.Error("Sync shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("AMQP close error", log.FieldError, err)
			}
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Store close error", log.FieldError, err)
		}
	})

	if revalidator != nil {
		if err := revalidator.Start(ctx); err != nil {
			logger.Error("Failed to start revalidator", log.FieldError, err)
			os.Exit(1)
		}
	}

	logger.Info("Starting HTTP server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
}
