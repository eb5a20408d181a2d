package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/gazette-radar/backend/internal/config"
	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/embedding"
	"github.com/DeafMist/gazette-radar/backend/internal/logger"
	"github.com/DeafMist/gazette-radar/backend/internal/metrics"
	"github.com/DeafMist/gazette-radar/backend/internal/resilience"
	"github.com/DeafMist/gazette-radar/backend/internal/themes"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("excerpts")
	cfg, err := config.LoadThemes()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	retry := resilience.DefaultConfig()
	retry.RetryMaxAttempts = cfg.ESRetryAttempts
	exec := resilience.NewExecutor(retry, log)

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log,
		elasticsearch.WithExecutor(exec))
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	pool, err := workpool.New(cfg.PoolSize, workpool.WithLogger(log))
	if err != nil {
		log.Error("init worker pool", slog.Any("err", err))
		os.Exit(1)
	}
	defer pool.Release()

	c := &consumer{
		log:       log,
		themes:    cfg.Themes,
		extractor: themes.NewExtractor(esClient, cfg.ElasticsearchIndex, pool, log),
		batchSize: cfg.BatchSize,
		batchWait: cfg.BatchWait,
	}

	if cfg.EmbeddingHost != "" {
		embedder, err := embedding.New(embedding.Config{
			Host:  cfg.EmbeddingHost,
			Model: cfg.EmbeddingModel,
			Token: cfg.EmbeddingToken,
		}, log, embedding.WithExecutor(exec))
		if err != nil {
			log.Error("init embedder", slog.Any("err", err))
			os.Exit(1)
		}
		c.reranker = themes.NewReranker(esClient, embedder, pool, log)
	} else {
		log.Warn("EMBEDDING_HOST not set, excerpts will not be reranked")
	}

	workerMetrics := metrics.NewWorkerMetrics("excerpts")
	c.metrics = workerMetrics
	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", slog.Any("err", err))
		}
	}()
	defer metricsServer.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	defer reader.Close()
	c.reader = reader

	log.Info("excerpt worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.Int("themes", len(cfg.Themes)),
		slog.Bool("rerank", c.reranker != nil),
	)
	c.run(ctx)
}
