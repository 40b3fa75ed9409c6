package main

import (
	"context"
	"errors"
	"os"
	"time"
	_ "time/tzdata"

	"burnrate/internal/amqp"
	"burnrate/internal/cli"
	"burnrate/internal/log"
	"burnrate/internal/monobank"
	"burnrate/internal/services"
	"burnrate/internal/worker"
)

// staleProgressAge matches the heartbeat after which a running progress
// record no longer blocks new syncs.
const staleProgressAge = 10 * time.Minute

func main() {
	cli.LoadEnvFile()

	bootLogger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := cli.LoadAndValidateConfig(bootLogger)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat).WithComponent(log.ComponentWorker)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the sync worker")
		os.Exit(1)
	}

	logger.Info("Starting sync-worker", "backend", cfg.DataBackend, "queue", cfg.AMQPQueue)

	res := cli.InitStore(context.Background(), logger, cfg)
	store := res.Store

	bank := monobank.New(cfg.MonobankBaseURL, nil, logger)
	tokens := cli.InitTokens(logger, cfg, store)
	orchestrator := cli.NewSyncer(logger, cfg, bank, tokens, store)
	syncSvc := services.NewSyncService(orchestrator, store, nil, logger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	syncWorker := worker.NewSyncWorker(syncSvc, store, logger)
	revalidator := services.NewRevalidator(store, amqpClient, services.RevalidatorConfig{
		Interval: cfg.RevalidateInterval,
		Jitter:   cfg.RevalidateJitter,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := revalidator.Stop(ctx); err != nil {
			logger.Error("Revalidator shutdown error", log.FieldError, err)
		}
		if err := syncSvc.Shutdown(ctx); err != nil {
			logger.Error("Sync shutdown error", log.FieldError, err)
		}
		if err := amqpClient.Close(); err != nil {
			logger.Error("AMQP close error", log.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Store close error", log.FieldError, err)
		}
	})

	// On startup, release progress left running by a worker that died mid-sync
	if _, err := syncWorker.ResetStaleProgress(ctx, staleProgressAge); err != nil {
		logger.Error("Failed to reset stale sync progress", log.FieldError, err)
		// Don't exit - continue with normal operation
	}

	if err := revalidator.Start(ctx); err != nil {
		logger.Error("Failed to start revalidator", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		err := amqpClient.ConsumeSyncRequests(ctx, 1, syncWorker.HandleSyncRequest)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
