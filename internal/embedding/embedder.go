package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/DeafMist/gazette-radar/backend/internal/resilience"
)

// Config points at an OpenAI-compatible embeddings endpoint.
type Config struct {
	Host  string
	Model string
	// Token defaults to "none" for local servers without authentication.
	Token     string
	BatchSize int
}

// Embedder turns texts into dense vectors. Safe for concurrent use.
type Embedder struct {
	embedder embeddings.Embedder
	exec     *resilience.Executor
	log      *slog.Logger
}

// Option customises an Embedder.
type Option func(*Embedder)

// WithExecutor routes embedding calls through exec.
func WithExecutor(exec *resilience.Executor) Option {
	return func(e *Embedder) {
		e.exec = exec
	}
}

// New creates an embedder for cfg.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Embedder, error) {
	if cfg.Host == "" {
		return nil, errors.New("embedding host is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	if cfg.Token == "" {
		cfg.Token = "none"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.Host),
		openai.WithToken(cfg.Token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}

	embedOpts := []embeddings.Option{embeddings.WithStripNewLines(true)}
	if cfg.BatchSize > 0 {
		embedOpts = append(embedOpts, embeddings.WithBatchSize(cfg.BatchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	e := &Embedder{embedder: embedder, log: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EmbedTexts returns one vector per text, in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.log.Debug("embedding texts", slog.Int("count", len(texts)))

	var vectors [][]float32
	err := e.exec.Execute(ctx, "embed", func(ctx context.Context) error {
		var err error
		vectors, err = e.embedder.EmbedDocuments(ctx, texts)
		return err
	}, resilience.Transient)
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed %d texts: got %d vectors", len(texts), len(vectors))
	}
	return vectors, nil
}
