package segmentation_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
)

// keywordRecognizer tags every occurrence of a known name as a location.
type keywordRecognizer struct {
	names []string
}

func (k keywordRecognizer) Recognize(_ context.Context, text string) ([]models.Entity, error) {
	var out []models.Entity
	for _, name := range k.names {
		offset := 0
		for {
			i := strings.Index(text[offset:], name)
			if i < 0 {
				break
			}
			start := offset + i
			out = append(out, models.Entity{
				Label: models.LocationLabel,
				Text:  name,
				Start: start,
				End:   start + len(name),
			})
			offset = start + len(name)
		}
	}
	return out, nil
}

type recognizerFunc func(ctx context.Context, text string) ([]models.Entity, error)

func (f recognizerFunc) Recognize(ctx context.Context, text string) ([]models.Entity, error) {
	return f(ctx, text)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *lockedBuffer) {
	buf := &lockedBuffer{}
	return slog.New(slog.NewTextHandler(buf, nil)), buf
}

func testRegistry() *territories.Registry {
	return territories.NewRegistry([]models.Territory{
		{ID: "5201108", Name: "Anápolis", StateCode: "GO"},
		{ID: "5208707", Name: "Goiânia", StateCode: "GO"},
		{ID: "5218805", Name: "Rio Verde", StateCode: "GO"},
		{ID: "3170206", Name: "Uberlândia", StateCode: "MG"},
	})
}

var allNames = keywordRecognizer{names: []string{"Anápolis", "Goiânia", "Rio Verde", "Uberlândia"}}
