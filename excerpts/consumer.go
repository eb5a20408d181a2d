package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/queue"
)

type excerptExtractor interface {
	ExtractThemedExcerpts(ctx context.Context, theme models.Theme, gazetteIDs []string) []string
}

type excerptReranker interface {
	Rerank(ctx context.Context, theme models.Theme, excerptIDs []string) []string
}

type excerptCounter interface {
	AddExcerpts(theme string, n int)
}

type consumer struct {
	log       *slog.Logger
	reader    queue.Reader
	themes    []models.Theme
	extractor excerptExtractor
	// reranker is nil when no embedding endpoint is configured.
	reranker  excerptReranker
	metrics   excerptCounter
	batchSize int
	batchWait time.Duration
}

func (c *consumer) run(ctx context.Context) {
	for {
		batch, err := queue.FetchBatch(ctx, c.reader, c.batchSize, c.batchWait)
		if err != nil {
			if queue.IsShutdown(err) || ctx.Err() != nil {
				c.log.Info("context canceled, stopping")
				return
			}
			c.log.Error("fetch message", slog.Any("err", err))
			continue
		}
		if err := c.handleBatch(ctx, batch); err != nil {
			c.log.Error("batch not committed", slog.Any("err", err), slog.Int("messages", len(batch)))
		}
	}
}

// handleBatch runs every theme over the gazette ids of batch. Theme failures
// are logged by the extractor and never block the commit.
func (c *consumer) handleBatch(ctx context.Context, batch []kafka.Message) error {
	ids := gazetteIDs(batch)
	runID := uuid.NewString()
	log := c.log.With(slog.String("run_id", runID))
	log.Info("themed extraction started", slog.Int("gazettes", len(ids)), slog.Int("themes", len(c.themes)))

	for _, theme := range c.themes {
		if err := ctx.Err(); err != nil {
			return err
		}
		excerptIDs := c.extractor.ExtractThemedExcerpts(ctx, theme, ids)
		if c.reranker != nil && len(excerptIDs) > 0 {
			scored := c.reranker.Rerank(ctx, theme, excerptIDs)
			log.Info("excerpts reranked",
				slog.String("theme", theme.Name),
				slog.Int("scored", len(scored)),
				slog.Int("excerpts", len(excerptIDs)),
			)
		}
		c.metrics.AddExcerpts(theme.Name, len(excerptIDs))
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	log.Info("themed extraction committed", slog.Int("messages", len(batch)))
	return nil
}

// gazetteIDs returns the distinct non-empty ids carried by batch, in order.
func gazetteIDs(batch []kafka.Message) []string {
	seen := make(map[string]struct{}, len(batch))
	ids := make([]string, 0, len(batch))
	for _, msg := range batch {
		id := strings.TrimSpace(string(msg.Value))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
