package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"example.com/healthassistant/internal/cache"
	"example.com/healthassistant/internal/config"
	"example.com/healthassistant/internal/deadletter"
	"example.com/healthassistant/internal/logger"
	"example.com/healthassistant/internal/persistence"
	"example.com/healthassistant/internal/persistence/postgres"
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

	root := &cobra.Command{
		Use:           "dlqmanager",
		Short:         "Replay or inspect events whose projection gave up",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(cfg, zl), listCommand(cfg))

	if err := root.Execute(); err != nil {
		zl.Error("dlqmanager failed", zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
}

func runCommand(cfg config.Config, zl *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll due entries and replay them until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := pgxpool.New(ctx, cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			loc := cfg.Location()
			pipeline := projection.NewPipeline(postgres.NewProjectionStore(pool), postgres.NewEventLog(pool, loc),
				projection.WithLogger(zl),
				projection.WithLocation(loc),
				projection.WithRetryPolicy(cfg.Retry.Policy()),
			)

			var invalidator projection.Invalidator
			if cfg.RedisAddress != "" {
				client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
				defer client.Close()
				invalidator = cache.NewRedis(client, cfg.SnapshotTTL)
			}
			manager := deadletter.NewManager(postgres.NewDeadLetterStore(pool), pipeline, invalidator, cfg.DLQMaxRetries, cfg.DLQBaseDelay, zl)

			metricsSrv := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, promhttp.Handler())
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := httptransport.Serve(ctx, metricsSrv, cfg.ShutdownGrace, zl); err != nil {
					zl.Error("metrics server stopped", zap.Error(err))
				}
			}()
			defer wg.Wait()

			ticker := time.NewTicker(cfg.DLQPollInterval)
			defer ticker.Stop()

			zl.Info("dlq manager started",
				zap.Duration("interval", cfg.DLQPollInterval),
				zap.Int("max_retries", cfg.DLQMaxRetries),
			)
			for {
				select {
				case <-ctx.Done():
					zl.Info("dlq manager received shutdown signal")
					return nil
				case <-ticker.C:
					processed, err := manager.RunOnce(ctx, cfg.DLQBatchSize)
					if err != nil {
						zl.Error("dlq manager error", zap.Error(err))
					} else if processed > 0 {
						zl.Info("dlq manager resolved entries", zap.Int("resolved", processed))
					}
				}
			}
		},
	}
}

type listOutput struct {
	Items      []deadletter.Entry `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func listCommand(cfg config.Config) *cobra.Command {
	var (
		cursor string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print dead-letter entries as JSON, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			after, err := persistence.DecodeCursor(cursor)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := pgxpool.New(ctx, cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("connect to postgres: %w", err)
			}
			defer pool.Close()

			entries, next, err := postgres.NewDeadLetterStore(pool).List(ctx, after, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(listOutput{Items: entries, NextCursor: persistence.EncodeCursor(next)})
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "resume after the entry encoded in this cursor")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to print")
	return cmd
}
