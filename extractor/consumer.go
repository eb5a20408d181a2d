package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/gazette-radar/backend/internal/dedupe"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/queue"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

type batchProcessor interface {
	ProcessBatch(ctx context.Context, gazettes []models.Gazette) ([]string, []workpool.Failure)
}

type dlqCounter interface {
	IncDLQ()
}

type consumer struct {
	log       *slog.Logger
	reader    queue.Reader
	dlq       *queue.DeadLetter
	indexed   queue.Writer
	processor batchProcessor
	cache     *dedupe.Cache
	metrics   dlqCounter
	batchSize int
	batchWait time.Duration
}

// job pairs a fetched message with its decoded gazette.
type job struct {
	msg     kafka.Message
	gazette models.Gazette
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

// handleBatch processes one batch and commits it. Nothing is committed when
// a failed message could not be dead-lettered or the indexed ids could not be
// published, so the batch is redelivered.
func (c *consumer) handleBatch(ctx context.Context, batch []kafka.Message) error {
	var (
		jobs    []job
		dlqErrs []error
	)
	inBatch := make(map[string]struct{}, len(batch))
	for _, msg := range batch {
		gazette, err := decodeJob(msg.Value)
		if err != nil {
			dlqErrs = append(dlqErrs, c.deadLetter(ctx, msg, err))
			continue
		}
		key := dedupe.Key(gazette)
		if _, dup := inBatch[key]; dup || c.cache.IsSeen(gazette) {
			c.log.Debug("duplicate gazette job", slog.String("key", key))
			continue
		}
		inBatch[key] = struct{}{}
		jobs = append(jobs, job{msg: msg, gazette: gazette})
	}

	gazettes := make([]models.Gazette, len(jobs))
	for i, j := range jobs {
		gazettes[i] = j.gazette
	}
	ids, failures := c.processor.ProcessBatch(ctx, gazettes)

	failed := make(map[int]struct{}, len(failures))
	for _, f := range failures {
		failed[f.Index] = struct{}{}
		dlqErrs = append(dlqErrs, c.deadLetter(ctx, jobs[f.Index].msg, f.Err))
	}
	for i, j := range jobs {
		if _, ok := failed[i]; !ok {
			c.cache.MarkSeen(j.gazette)
		}
	}

	if err := errors.Join(dlqErrs...); err != nil {
		c.log.Error("DLQ write exhausted retries, message may be lost if later messages commit", slog.Any("err", err))
		return err
	}

	batchID := uuid.NewString()
	if err := queue.PublishIDs(ctx, c.indexed, batchID, ids); err != nil {
		return err
	}

	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	c.log.Info("batch committed",
		slog.String("batch_id", batchID),
		slog.Int("messages", len(batch)),
		slog.Int("gazettes", len(jobs)),
		slog.Int("failed", len(failures)),
		slog.Int("documents", len(ids)),
	)
	return nil
}

func (c *consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	c.log.Warn("process message failed, sending to DLQ",
		slog.Any("err", cause),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	if err := c.dlq.Send(ctx, msg, cause); err != nil {
		return err
	}
	c.metrics.IncDLQ()
	return nil
}

func decodeJob(raw []byte) (models.Gazette, error) {
	var g models.Gazette
	if err := json.Unmarshal(raw, &g); err != nil {
		return g, fmt.Errorf("decode gazette job: %w", err)
	}
	g.FilePath = strings.TrimSpace(g.FilePath)
	g.FileChecksum = strings.TrimSpace(g.FileChecksum)
	g.StateCode = strings.ToUpper(strings.TrimSpace(g.StateCode))
	switch {
	case g.ID == 0:
		return g, errors.New("gazette job without id")
	case g.FilePath == "":
		return g, errors.New("gazette job without file_path")
	case g.FileChecksum == "":
		return g, errors.New("gazette job without file_checksum")
	case g.TerritoryID == "":
		return g, errors.New("gazette job without territory_id")
	case g.StateCode == "":
		return g, errors.New("gazette job without state_code")
	}
	return g, nil
}
