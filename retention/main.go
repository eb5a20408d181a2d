package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/gazette-radar/backend/internal/config"
	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/logger"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

// dateField is the excerpt field compared against the retention cutoff.
const dateField = "source_date"

type pinger interface {
	Ping(ctx context.Context) error
}

type excerptPruner interface {
	DeleteOlderThan(ctx context.Context, index, field string, cutoff time.Time, batchSize int) (int64, error)
}

func main() {
	_ = godotenv.Load()

	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}
	if err := waitForCluster(ctx, log, esClient, 10, 2*time.Second); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to elasticsearch")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
		slog.Int("themes", len(cfg.Themes)),
	)

	runOnce(ctx, log, esClient, cfg.Themes, cfg.MaxAge, cfg.BatchSize, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case now := <-ticker.C:
			runOnce(ctx, log, esClient, cfg.Themes, cfg.MaxAge, cfg.BatchSize, now)
		}
	}
}

// waitForCluster pings es with exponential backoff capped at 30s.
func waitForCluster(ctx context.Context, log *slog.Logger, es pinger, maxRetries int, delay time.Duration) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = es.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return err
}

// runOnce prunes every theme index. A failing index is logged and retried on
// the next tick; the other indexes are still pruned.
func runOnce(ctx context.Context, log *slog.Logger, es excerptPruner, themes []models.Theme, maxAge time.Duration, batchSize int, now time.Time) int64 {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cutoff := now.Add(-maxAge)
	var total int64
	for _, theme := range themes {
		deleted, err := es.DeleteOlderThan(subCtx, theme.Index, dateField, cutoff, batchSize)
		total += deleted
		if err != nil {
			log.Warn("retention run failed (will retry on next interval)",
				slog.String("theme", theme.Name),
				slog.Any("err", err),
			)
			continue
		}
		if deleted > 0 {
			log.Info("retention run completed", slog.String("theme", theme.Name), slog.Int64("deleted", deleted))
		} else {
			log.Debug("retention run completed, no old excerpts found", slog.String("theme", theme.Name))
		}
	}
	return total
}
