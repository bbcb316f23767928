package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	api "unix-task-manager/internal/api"
	"unix-task-manager/internal/config"
	"unix-task-manager/internal/logging"
	"unix-task-manager/internal/ratelimit"
	"unix-task-manager/internal/registry"
	"unix-task-manager/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel, "task-api")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		// Shared by the limiter and the redis store; store.Redis does not close it.
		defer redisClient.Close()
	}

	st, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		logger.Fatal("open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer st.Close()

	ctrl := registry.NewController(st,
		registry.WithMaxAttempts(cfg.PIDMaxAttempts),
		registry.WithRand(rand.New(rand.NewSource(time.Now().UnixNano()))),
		registry.WithLogger(logger.Named("registry")),
	)

	var opts []api.Option
	if redisClient != nil {
		opts = append(opts, api.WithLimiter(ratelimit.NewOwnerLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)))
	}
	if p, ok := st.(api.Pinger); ok {
		opts = append(opts, api.WithHealthCheck(p))
	}

	server := api.New(ctrl, logger.Named("http"), opts...)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", httpServer.Addr), zap.String("backend", cfg.StoreBackend))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("api stopped", zap.Error(err))
	}
}

// openStore builds the configured registry.Store backend.
func openStore(ctx context.Context, cfg config.Config, client *redis.Client) (registry.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.BackendRedis:
		return store.NewRedis(client), nil
	default:
		return registry.NewMemoryStore(), nil
	}
}
