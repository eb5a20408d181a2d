// Package queue holds the Kafka plumbing shared by the workers: batched
// fetching, dead-lettering with backoff and publishing of indexed ids.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Reader is the consumer side of a kafka.Reader.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Writer is the producer side of a kafka.Writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// FetchBatch blocks for the first message, then collects up to size messages
// arriving within wait of it. An error is returned only when nothing was
// fetched or ctx is done.
func FetchBatch(ctx context.Context, r Reader, size int, wait time.Duration) ([]kafka.Message, error) {
	if size <= 0 {
		size = 1
	}
	first, err := r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for len(batch) < size {
		msg, err := r.FetchMessage(waitCtx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

// DeadLetter forwards messages that could not be processed, with the failure
// recorded in headers.
type DeadLetter struct {
	w        Writer
	log      *slog.Logger
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

// DeadLetterOption customises a DeadLetter.
type DeadLetterOption func(*DeadLetter)

// WithBackoff sets the number of write attempts and the first backoff, which
// doubles after each failed attempt.
func WithBackoff(attempts int, first time.Duration) DeadLetterOption {
	return func(d *DeadLetter) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if first > 0 {
			d.backoff = first
		}
	}
}

// NewDeadLetter wraps w.
func NewDeadLetter(w Writer, logger *slog.Logger, opts ...DeadLetterOption) *DeadLetter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &DeadLetter{w: w, log: logger, attempts: 5, backoff: time.Second, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send writes msg to the dead-letter topic, retrying with exponential
// backoff. The caller must not commit msg when Send fails.
func (d *DeadLetter) Send(ctx context.Context, msg kafka.Message, cause error) error {
	dlqMsg := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: d.headers(msg, cause),
	}

	backoff := d.backoff
	var lastErr error
	for attempt := range d.attempts {
		lastErr = d.w.WriteMessages(ctx, dlqMsg)
		if lastErr == nil {
			d.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return nil
		}
		if attempt == d.attempts-1 {
			break
		}
		d.log.Warn("DLQ write failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return fmt.Errorf("dead-letter partition %d offset %d: %w", msg.Partition, msg.Offset, lastErr)
}

func (d *DeadLetter) headers(msg kafka.Message, cause error) []kafka.Header {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	return append(headers,
		kafka.Header{Key: "dlq_id", Value: []byte(uuid.NewString())},
		kafka.Header{Key: "original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "error", Value: []byte(reason)},
		kafka.Header{Key: "timestamp", Value: []byte(d.now().UTC().Format(time.RFC3339))},
	)
}

// BatchHeader names the header carrying the id of the batch that produced a
// published document id.
const BatchHeader = "batch_id"

// PublishIDs writes one message per document id, keyed by the id.
func PublishIDs(ctx context.Context, w Writer, batchID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, kafka.Message{
			Key:     []byte(id),
			Value:   []byte(id),
			Headers: []kafka.Header{{Key: BatchHeader, Value: []byte(batchID)}},
		})
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d ids: %w", len(ids), err)
	}
	return nil
}

// Header returns the value of the first header named key.
func Header(msg kafka.Message, key string) (string, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// IsShutdown reports whether err only signals that the consumer is stopping.
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
