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
	"github.com/DeafMist/gazette-radar/backend/internal/dedupe"
	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/gazettes"
	"github.com/DeafMist/gazette-radar/backend/internal/logger"
	"github.com/DeafMist/gazette-radar/backend/internal/metrics"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/ner"
	"github.com/DeafMist/gazette-radar/backend/internal/postgres"
	"github.com/DeafMist/gazette-radar/backend/internal/queue"
	"github.com/DeafMist/gazette-radar/backend/internal/resilience"
	"github.com/DeafMist/gazette-radar/backend/internal/segmentation"
	"github.com/DeafMist/gazette-radar/backend/internal/storage"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
	"github.com/DeafMist/gazette-radar/backend/internal/textextract"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("extractor")
	cfg, err := config.LoadExtractor()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := postgres.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("open database", slog.Any("err", err))
		os.Exit(1)
	}
	defer db.Close()
	store := postgres.NewStore(db)

	list, err := store.LoadTerritories(ctx)
	if err != nil {
		log.Error("load territories", slog.Any("err", err))
		os.Exit(1)
	}
	registry := territories.NewRegistry(list)
	log.Info("territories loaded", slog.Int("count", registry.Len()))

	recognizer, closeRecognizer, err := newRecognizer(cfg, list, log)
	if err != nil {
		log.Error("init entity recognizer", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeRecognizer()

	retry := resilience.DefaultConfig()
	retry.RetryMaxAttempts = cfg.ESRetryAttempts
	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log,
		elasticsearch.WithExecutor(resilience.NewExecutor(retry, log)))
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	files, err := storage.NewLocal(cfg.StoragePath)
	if err != nil {
		log.Error("init storage", slog.Any("err", err))
		os.Exit(1)
	}

	pool, err := workpool.New(cfg.PoolSize, workpool.WithLogger(log))
	if err != nil {
		log.Error("init worker pool", slog.Any("err", err))
		os.Exit(1)
	}
	defer pool.Release()

	workerMetrics := metrics.NewWorkerMetrics("extractor")
	pipeline, err := gazettes.New(
		gazettes.Config{
			FilesEndpoint: cfg.FilesEndpoint,
			Index:         cfg.ElasticsearchIndex,
			TempDir:       cfg.TempDir,
		},
		gazettes.Deps{
			Storage:   files,
			Extractor: textextract.New(),
			Indexer:   esClient,
			Database:  store,
			Segmenter: segmentation.NewSegmenter(registry, recognizer, pool, segmentation.WithLogger(log)),
			Pool:      pool,
			Observer:  workerMetrics,
			Logger:    log,
		})
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}

	metricsServer := serveMetrics(cfg.MetricsAddr, workerMetrics, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        dlqTopic,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	defer dlqWriter.Close()

	indexedTopic := cfg.KafkaTopic + "_indexed"
	indexedWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        indexedTopic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	defer indexedWriter.Close()

	log.Info("extractor started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.String("indexed_topic", indexedTopic),
		slog.Int("pool_size", pool.Cap()),
	)

	c := &consumer{
		log:       log,
		reader:    reader,
		dlq:       queue.NewDeadLetter(dlqWriter, log),
		indexed:   indexedWriter,
		processor: pipeline,
		cache:     dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL),
		metrics:   workerMetrics,
		batchSize: cfg.BatchSize,
		batchWait: cfg.BatchWait,
	}
	c.run(ctx)
}

// newRecognizer loads the NER model when one is configured and falls back to
// matching territory names otherwise.
func newRecognizer(cfg *config.Extractor, list []models.Territory, log *slog.Logger) (segmentation.Recognizer, func(), error) {
	if cfg.NERModelPath == "" {
		names := make([]string, 0, len(list))
		for _, t := range list {
			names = append(names, t.Name)
		}
		log.Info("no NER model configured, matching territory names")
		return ner.NewDictionary(names), func() {}, nil
	}

	rec, err := ner.New(ner.Config{ModelPath: cfg.NERModelPath, MinScore: float32(cfg.NERMinScore)}, log)
	if err != nil {
		return nil, nil, err
	}
	return rec, func() {
		if err := rec.Close(); err != nil {
			log.Warn("close entity recognizer", slog.Any("err", err))
		}
	}, nil
}

func serveMetrics(addr string, m *metrics.WorkerMetrics, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", slog.Any("err", err))
		}
	}()
	return srv
}
