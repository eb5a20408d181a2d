package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/dedupe"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/queue"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

type stubReader struct {
	committed []kafka.Message
}

func (s *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (s *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.committed = append(s.committed, msgs...)
	return nil
}

type stubWriter struct {
	err     error
	written []kafka.Message
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.written = append(s.written, msgs...)
	return nil
}

// stubProcessor indexes each gazette under its checksum and fails the
// checksums listed in fail.
type stubProcessor struct {
	fail  map[string]bool
	calls [][]models.Gazette
}

func (s *stubProcessor) ProcessBatch(_ context.Context, gazettes []models.Gazette) ([]string, []workpool.Failure) {
	s.calls = append(s.calls, gazettes)
	var (
		ids      []string
		failures []workpool.Failure
	)
	for i, g := range gazettes {
		if s.fail[g.FileChecksum] {
			failures = append(failures, workpool.Failure{Index: i, Key: g.FilePath, Err: models.ErrExtraction})
			continue
		}
		ids = append(ids, g.FileChecksum)
	}
	return ids, failures
}

type countingMetrics struct{ dlq int }

func (c *countingMetrics) IncDLQ() { c.dlq++ }

type harness struct {
	reader    *stubReader
	dlq       *stubWriter
	indexed   *stubWriter
	processor *stubProcessor
	metrics   *countingMetrics
	consumer  *consumer
}

func newHarness() *harness {
	h := &harness{
		reader:    &stubReader{},
		dlq:       &stubWriter{},
		indexed:   &stubWriter{},
		processor: &stubProcessor{fail: map[string]bool{}},
		metrics:   &countingMetrics{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.consumer = &consumer{
		log:       log,
		reader:    h.reader,
		dlq:       queue.NewDeadLetter(h.dlq, log, queue.WithBackoff(1, time.Millisecond)),
		indexed:   h.indexed,
		processor: h.processor,
		cache:     dedupe.NewCache(100, time.Hour),
		metrics:   h.metrics,
		batchSize: 10,
		batchWait: 10 * time.Millisecond,
	}
	return h
}

func jobMessage(t *testing.T, offset int64, id int64, checksum string) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(models.Gazette{
		ID:           id,
		FileChecksum: checksum,
		TerritoryID:  "5201108",
		StateCode:    "GO",
		Date:         "2024-03-01",
		FilePath:     "5201108/2024-03-01/" + checksum + ".pdf",
	})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: raw}
}

func messageValues(msgs []kafka.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Value))
	}
	return out
}

func TestHandleBatchPublishesAndCommits(t *testing.T) {
	h := newHarness()
	batch := []kafka.Message{jobMessage(t, 0, 1, "a"), jobMessage(t, 1, 2, "b")}

	require.NoError(t, h.consumer.handleBatch(context.Background(), batch))

	require.Equal(t, []string{"a", "b"}, messageValues(h.indexed.written))
	require.Len(t, h.reader.committed, 2)
	require.Empty(t, h.dlq.written)
}

func TestHandleBatchDeadLettersFailures(t *testing.T) {
	h := newHarness()
	h.processor.fail["b"] = true
	batch := []kafka.Message{
		jobMessage(t, 0, 1, "a"),
		jobMessage(t, 1, 2, "b"),
		{Offset: 2, Value: []byte("not json")},
	}

	require.NoError(t, h.consumer.handleBatch(context.Background(), batch))

	require.Equal(t, []string{"a"}, messageValues(h.indexed.written))
	require.Len(t, h.dlq.written, 2)
	reasons := make([]string, 0, 2)
	for _, m := range h.dlq.written {
		reason, ok := queue.Header(m, "error")
		require.True(t, ok)
		reasons = append(reasons, reason)
	}
	require.Contains(t, reasons[0], "decode gazette job")
	require.Equal(t, models.ErrExtraction.Error(), reasons[1])
	require.Equal(t, 2, h.metrics.dlq)
	require.Len(t, h.reader.committed, 3)

	// A failed gazette is not remembered, so a redelivery is retried.
	h.processor.fail["b"] = false
	require.NoError(t, h.consumer.handleBatch(context.Background(), []kafka.Message{jobMessage(t, 3, 2, "b")}))
	require.Len(t, h.processor.calls, 2)
	require.Len(t, h.processor.calls[1], 1)
}

func TestHandleBatchSkipsDuplicates(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.consumer.handleBatch(context.Background(), []kafka.Message{jobMessage(t, 0, 1, "a")}))

	batch := []kafka.Message{jobMessage(t, 1, 1, "a"), jobMessage(t, 2, 2, "b"), jobMessage(t, 3, 2, "b")}
	require.NoError(t, h.consumer.handleBatch(context.Background(), batch))

	require.Len(t, h.processor.calls[1], 1)
	require.Equal(t, "b", h.processor.calls[1][0].FileChecksum)
	require.Len(t, h.reader.committed, 4)
}

func TestHandleBatchKeepsOffsetsWhenDLQFails(t *testing.T) {
	h := newHarness()
	h.processor.fail["a"] = true
	h.dlq.err = errors.New("broker down")

	err := h.consumer.handleBatch(context.Background(), []kafka.Message{jobMessage(t, 0, 1, "a")})
	require.Error(t, err)
	require.Empty(t, h.reader.committed)
	require.Zero(t, h.metrics.dlq)
}

func TestHandleBatchKeepsOffsetsWhenPublishFails(t *testing.T) {
	h := newHarness()
	h.indexed.err = errors.New("broker down")

	err := h.consumer.handleBatch(context.Background(), []kafka.Message{jobMessage(t, 0, 1, "a")})
	require.Error(t, err)
	require.Empty(t, h.reader.committed)
}

func TestDecodeJobValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no id", raw: `{"file_checksum":"a","file_path":"x.pdf","territory_id":"1","state_code":"GO"}`},
		{name: "no path", raw: `{"id":1,"file_checksum":"a","territory_id":"1","state_code":"GO"}`},
		{name: "no checksum", raw: `{"id":1,"file_path":"x.pdf","territory_id":"1","state_code":"GO"}`},
		{name: "no territory", raw: `{"id":1,"file_checksum":"a","file_path":"x.pdf","state_code":"GO"}`},
		{name: "no state", raw: `{"id":1,"file_checksum":"a","file_path":"x.pdf","territory_id":"5200000"}`},
		{name: "blank state", raw: `{"id":1,"file_checksum":"a","file_path":"x.pdf","territory_id":"5200000","state_code":" "}`},
		{name: "malformed", raw: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeJob([]byte(tt.raw))
			require.Error(t, err)
		})
	}

	g, err := decodeJob([]byte(`{"id":1,"file_checksum":" a ","file_path":"x.pdf","territory_id":"1","state_code":" go"}`))
	require.NoError(t, err)
	require.Equal(t, "a", g.FileChecksum)
	require.Equal(t, "GO", g.StateCode)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.consumer.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
