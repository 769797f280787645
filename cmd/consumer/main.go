package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/healthassistant/internal/cache"
	"example.com/healthassistant/internal/config"
	"example.com/healthassistant/internal/consumer"
	"example.com/healthassistant/internal/deadletter"
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
	pipeline := projection.NewPipeline(persistence.NewProjectionStore(pool), persistence.NewEventLog(pool, loc),
		projection.WithLogger(zl),
		projection.WithLocation(loc),
		projection.WithRetryPolicy(cfg.Retry.Policy()),
	)

	listenerOpts := []projection.ListenerOption{
		projection.WithFailureRecorder(deadletter.NewRecorder(persistence.NewDeadLetterStore(pool), zl)),
	}
	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer client.Close()
		listenerOpts = append(listenerOpts, projection.WithInvalidator(cache.NewRedis(client, cfg.SnapshotTTL)))
	}
	handler := consumer.NewProjectionHandler(projection.NewListener(pipeline, listenerOpts...))

	metricsSrv := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, promhttp.Handler())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httptransport.Serve(ctx, metricsSrv, cfg.ShutdownGrace, zl); err != nil {
			zl.Error("metrics server stopped", zap.Error(err))
		}
	}()

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler,
			consumer.WithLogger(zl.With(zap.String("topic", topic))),
			consumer.WithRetryPolicy(cfg.ConsumerRetryPolicy()),
		)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			zl.Info("consumer started", zap.String("topic", topic), zap.String("group", cfg.ConsumerGroupID))
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zl.Error("consumer stopped", zap.String("topic", topic), zap.Error(err))
			}
		}(topic, reader)
	}

	<-ctx.Done()
	zl.Info("consumer shutdown requested")
	wg.Wait()
}
