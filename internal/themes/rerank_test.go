package themes_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/themes"
)

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, ok := s.vectors[text]
		if !ok {
			return nil, errors.New("unknown text " + text)
		}
		out = append(out, v)
	}
	return out, nil
}

func rerankTheme() models.Theme {
	return models.Theme{
		Name:  "education",
		Index: "theme-education",
		Queries: []models.ThemeQuery{
			{Title: "creches"},
			{Title: "transporte escolar"},
		},
	}
}

func TestRerankStoresMaxSimilarity(t *testing.T) {
	store := newStubIndex()
	store.docs["ex1"] = json.RawMessage(`{"excerpt_id":"ex1","excerpt":"vagas em creches","legacy_field":"kept"}`)

	embedder := stubEmbedder{vectors: map[string][]float32{
		"creches":            {1, 0},
		"transporte escolar": {0, 1},
		"vagas em creches":   {3, 1},
	}}

	ids := themes.NewReranker(store, embedder, newPool(t, 2), nil).
		Rerank(context.Background(), rerankTheme(), []string{"ex1"})
	require.Equal(t, []string{"ex1"}, ids)

	written := store.indexed["ex1"]
	require.Equal(t, "theme-education", written.Index)
	require.True(t, written.Refresh)

	doc := written.Doc.(map[string]any)
	require.InDelta(t, 3/math.Sqrt(10), doc[themes.ScoreField], 1e-6)
	require.Equal(t, "kept", doc["legacy_field"])
}

func TestRerankSkipsMissingExcerpts(t *testing.T) {
	store := newStubIndex()
	store.docs["ex1"] = json.RawMessage(`{"excerpt":"vagas em creches"}`)
	embedder := stubEmbedder{vectors: map[string][]float32{
		"creches":            {1, 0},
		"transporte escolar": {0, 1},
		"vagas em creches":   {1, 1},
	}}

	log, buf := testLogger()
	ids := themes.NewReranker(store, embedder, nil, log).
		Rerank(context.Background(), rerankTheme(), []string{"missing", "ex1"})

	require.Equal(t, []string{"ex1"}, ids)
	require.Contains(t, buf.String(), "excerpt not found")
	require.Contains(t, buf.String(), "excerpt_id=missing")
}

func TestRerankQueryEmbeddingFailure(t *testing.T) {
	store := newStubIndex()
	store.docs["ex1"] = json.RawMessage(`{"excerpt":"x"}`)

	log, buf := testLogger()
	ids := themes.NewReranker(store, stubEmbedder{err: errors.New("embedding service down")}, nil, log).
		Rerank(context.Background(), rerankTheme(), []string{"ex1"})

	require.Empty(t, ids)
	require.Zero(t, store.indexCalls)
	require.Contains(t, buf.String(), "embedding theme queries failed")
}

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, themes.Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, 0.0, themes.Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Zero(t, themes.Cosine([]float32{0, 0}, []float32{1, 1}))
	require.Zero(t, themes.Cosine([]float32{1}, []float32{1, 1}))
}

func TestMaxSimilarity(t *testing.T) {
	v := []float32{1, 0}
	require.InDelta(t, -1.0, themes.MaxSimilarity(v, [][]float32{{-1, 0}}), 1e-9)
	require.InDelta(t, 1.0, themes.MaxSimilarity(v, [][]float32{{-1, 0}, {2, 0}}), 1e-9)
	require.Zero(t, themes.MaxSimilarity(v, nil))
}
