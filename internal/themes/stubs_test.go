package themes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

type indexedDoc struct {
	Index   string
	Doc     any
	Refresh bool
}

// stubIndex tokenizes on whitespace and answers every search with the hits
// whose id is in the ids filter.
type stubIndex struct {
	mu         sync.Mutex
	analyzeErr map[string]error
	hits       []elasticsearch.Hit
	searchErr  error
	searches   []map[string]any
	indexed    map[string]indexedDoc
	indexCalls int
	failIndex  map[string]bool
	docs       map[string]json.RawMessage
}

func newStubIndex() *stubIndex {
	return &stubIndex{
		analyzeErr: make(map[string]error),
		indexed:    make(map[string]indexedDoc),
		failIndex:  make(map[string]bool),
		docs:       make(map[string]json.RawMessage),
	}
}

func (s *stubIndex) Analyze(_ context.Context, _, _, text string) ([]string, error) {
	if err := s.analyzeErr[text]; err != nil {
		return nil, err
	}
	return strings.Fields(strings.ToLower(text)), nil
}

func (s *stubIndex) Search(_ context.Context, _ string, body map[string]any) ([]elasticsearch.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, body)
	if s.searchErr != nil {
		return nil, s.searchErr
	}

	wanted := make(map[string]bool)
	for _, id := range filterIDs(body) {
		wanted[id] = true
	}
	var out []elasticsearch.Hit
	for _, h := range s.hits {
		if wanted[h.ID] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *stubIndex) IndexDocument(_ context.Context, index, id string, doc any, refresh bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexCalls++
	if s.failIndex[id] {
		return fmt.Errorf("%w: %s", models.ErrIndexing, id)
	}
	s.indexed[id] = indexedDoc{Index: index, Doc: doc, Refresh: refresh}
	return nil
}

func (s *stubIndex) GetDocuments(_ context.Context, _ string, ids []string) ([]elasticsearch.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []elasticsearch.Hit
	for _, id := range ids {
		if raw, ok := s.docs[id]; ok {
			out = append(out, elasticsearch.Hit{ID: id, Source: raw})
		}
	}
	return out, nil
}

func filterIDs(body map[string]any) []string {
	q := body["query"].(map[string]any)["bool"].(map[string]any)
	return q["filter"].(map[string]any)["ids"].(map[string]any)["values"].([]string)
}

func gazetteHit(t interface{ Helper() }, checksum string, fragments ...string) elasticsearch.Hit {
	t.Helper()
	src, _ := json.Marshal(models.Gazette{
		ID:            7,
		FileChecksum:  checksum,
		TerritoryID:   "5201108",
		TerritoryName: "Anápolis",
		StateCode:     "GO",
		Date:          "2024-03-01",
		FileRawTxt:    "http://files/" + checksum + ".txt",
		Processed:     true,
	})
	return elasticsearch.Hit{
		ID:        checksum,
		Source:    src,
		Highlight: map[string][]string{"source_text.with_stopwords": fragments},
	}
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
