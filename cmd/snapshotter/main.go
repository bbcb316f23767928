package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"unix-task-manager/internal/config"
	"unix-task-manager/internal/logging"
	"unix-task-manager/internal/registry"
	"unix-task-manager/internal/snapshot"
	"unix-task-manager/internal/store"
	"unix-task-manager/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel, "task-snapshotter")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// An in-memory registry lives inside the api process; only shared backends can be exported.
	var src registry.Store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		src = pg
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		src = store.NewRedis(client)
	default:
		logger.Fatal("snapshotter needs a shared store backend", zap.String("backend", cfg.StoreBackend))
	}
	defer src.Close()

	uploader, err := snapshot.NewUploader(ctx, cfg)
	if err != nil {
		logger.Fatal("init uploader", zap.Error(err))
	}
	exporter := snapshot.NewExporter(src, uploader, cfg.SnapshotS3Prefix, logger.Named("snapshot"))

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("snapshotter started", zap.Duration("interval", cfg.SnapshotInterval), zap.String("backend", cfg.StoreBackend))
	if err := exporter.Run(ctx, cfg.SnapshotInterval, cfg.BackoffInitial, cfg.BackoffMax); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("snapshotter stopped", zap.Error(err))
	}
}
