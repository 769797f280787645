package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"example.com/healthassistant/internal/cache"
	"example.com/healthassistant/internal/config"
	"example.com/healthassistant/internal/domain"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/persistence/postgres"
	"example.com/healthassistant/internal/projection"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	root := newRootCommand(func(ctx context.Context) (*domain.Service, func(), error) {
		return openService(ctx, cfg, zl)
	})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		_ = zl.Sync()
		os.Exit(1)
	}
}

func openService(ctx context.Context, cfg config.Config, zl *zap.Logger) (*domain.Service, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	closers := []func(){pool.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.RunMigrations {
		if err := postgres.Migrate(pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	loc := cfg.Location()
	store := postgres.NewProjectionStore(pool)
	eventLog := postgres.NewEventLog(pool, loc)
	pipeline := projection.NewPipeline(store, eventLog,
		projection.WithLogger(zl),
		projection.WithLocation(loc),
		projection.WithRetryPolicy(cfg.Retry.Policy()),
	)

	opts := []domain.Option{domain.WithLogger(zl)}
	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, domain.WithCache(cache.NewRedis(client, cfg.SnapshotTTL)))
	}
	return domain.NewService(eventLog, store, pipeline, opts...), cleanup, nil
}
