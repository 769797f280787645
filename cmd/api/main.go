package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"example.com/healthassistant/internal/api"
	"example.com/healthassistant/internal/auth"
	"example.com/healthassistant/internal/cache"
	"example.com/healthassistant/internal/config"
	"example.com/healthassistant/internal/domain"
	"example.com/healthassistant/internal/energy"
	"example.com/healthassistant/internal/logger"
	persistence "example.com/healthassistant/internal/persistence/postgres"
	"example.com/healthassistant/internal/projection"
	httptransport "example.com/healthassistant/internal/transport/http"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		zl.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := persistence.Migrate(pool); err != nil {
			zl.Fatal("apply migrations", zap.Error(err))
		}
	}

	loc := cfg.Location()
	store := persistence.NewProjectionStore(pool)
	eventLog := persistence.NewEventLog(pool, loc)
	pipeline := projection.NewPipeline(store, eventLog,
		projection.WithLogger(zl),
		projection.WithLocation(loc),
		projection.WithRetryPolicy(cfg.Retry.Policy()),
	)

	calc, err := energy.NewCalculator(cfg.Energy)
	if err != nil {
		zl.Fatal("energy config", zap.Error(err))
	}
	energySvc := energy.NewService(calc, persistence.NewWeightHistory(pool), domain.NewActivityFacade(eventLog, store), loc, zl)

	opts := []domain.Option{domain.WithLogger(zl), domain.WithEnergy(energySvc)}
	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		opts = append(opts, domain.WithCache(cache.NewRedis(client, cfg.SnapshotTTL)))
	}
	service := domain.NewService(eventLog, store, pipeline, opts...)

	mux := http.NewServeMux()
	api.NewHandler(service, zl).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(httptransport.RequestLogger(zl)(mux)))

	if err := httptransport.Serve(ctx, server, cfg.ShutdownGrace, zl); err != nil {
		zl.Error("api server stopped", zap.Error(err))
	}
}
