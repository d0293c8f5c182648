package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"stockmaster/backend/internal/config"
	"stockmaster/backend/internal/logger"
	"stockmaster/backend/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.UseRedis() {
		log.Fatal("REDIS_ADDR is required to run the reconcile worker")
	}
	appLogger, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	zap.ReplaceGlobals(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := reconcile.NewWorker(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, appLogger.Named("reconcile"))

	appLogger.Info("reconcile worker started", zap.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil {
		appLogger.Error("reconcile worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
	appLogger.Info("reconcile worker stopped")
}
