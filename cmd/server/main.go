package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"stockmaster/backend/internal/cache"
	"stockmaster/backend/internal/config"
	"stockmaster/backend/internal/httpapi"
	"stockmaster/backend/internal/logger"
	"stockmaster/backend/internal/reconcile"
	"stockmaster/backend/internal/service"
	"stockmaster/backend/internal/store"
	"stockmaster/backend/internal/store/memory"
	pgstore "stockmaster/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateSecurity(); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	appLogger, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	zap.ReplaceGlobals(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLogger); err != nil {
		appLogger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	appLogger.Info("server stopped")
}

type deps struct {
	repo     store.Repository
	sessions cache.Cache
	notifier reconcile.Notifier
	closers  []func() error
}

func (d *deps) close(logger *zap.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			logger.Warn("close dependency", zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	d, err := buildDeps(startCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close(logger)

	svc := service.New(d.repo, d.sessions,
		service.WithNotifier(d.notifier),
		service.WithLogger(logger),
		service.WithCheckoutIdleTTL(cfg.CheckoutIdleTTL))
	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, cfg.AccessTokenTTL, d.repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, httpapi.WithLogger(logger.Named("http")))

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stockmaster backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// buildDeps selects the repository, the session cache and the reconcile
// notifier. A configured database that cannot be reached is fatal; Redis
// falls back to in-process implementations.
func buildDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{notifier: reconcile.NoopNotifier{}}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			d.close(logger)
			return nil, err
		}
		d.repo = pg
		logger.Info("repository: postgres")
	} else if cfg.SeedDemoData {
		d.repo = memory.NewSeeded(logger)
		logger.Info("repository: in-memory with demo data")
	} else {
		d.repo = memory.New()
		logger.Info("repository: in-memory")
	}

	d.sessions = cache.NewMemoryCache()
	if cfg.UseRedis() {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			_ = redisCache.Close()
			logger.Warn("redis unavailable, checkout sessions stay in process", zap.Error(err))
			return d, nil
		}
		d.sessions = redisCache
		d.closers = append(d.closers, redisCache.Close)

		notifier := reconcile.NewQueueNotifier(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d.notifier = notifier
		d.closers = append(d.closers, notifier.Close)
		logger.Info("cache: redis, reconcile queue: asynq")
	} else {
		logger.Info("cache: memory, reconcile queue: disabled")
	}
	return d, nil
}
