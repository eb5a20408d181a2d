package themes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

// ScoreField holds the semantic similarity of an excerpt to its theme.
const ScoreField = "excerpt_embedding_score"

var errNoText = errors.New("excerpt has no text")

// Embedder turns texts into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore loads and rewrites excerpts.
type DocumentStore interface {
	GetDocuments(ctx context.Context, index string, ids []string) ([]elasticsearch.Hit, error)
	IndexDocument(ctx context.Context, index, id string, doc any, refresh bool) error
}

// Reranker scores excerpts by their similarity to the theme's natural
// language queries.
type Reranker struct {
	store    DocumentStore
	embedder Embedder
	pool     *workpool.Pool
	log      *slog.Logger
}

func NewReranker(store DocumentStore, embedder Embedder, pool *workpool.Pool, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reranker{store: store, embedder: embedder, pool: pool, log: logger}
}

// Rerank stores, on every excerpt, the best cosine similarity between its
// text and the theme query titles. It returns the ids that were rescored.
func (r *Reranker) Rerank(ctx context.Context, theme models.Theme, excerptIDs []string) []string {
	queries := theme.NaturalLanguageQueries()
	if len(excerptIDs) == 0 || len(queries) == 0 {
		return nil
	}

	queryVectors, err := r.embedder.EmbedTexts(ctx, queries)
	if err != nil {
		r.log.Error("embedding theme queries failed",
			slog.String("theme", theme.Name),
			slog.Any("err", err),
		)
		return nil
	}

	scored, _ := workpool.Map(ctx, r.pool, "rerank_excerpt", excerptIDs,
		func(id string) string { return id },
		func(ctx context.Context, id string) (string, error) {
			return r.rerankOne(ctx, theme.Index, id, queryVectors)
		})

	out := scored[:0]
	for _, id := range scored {
		if id != "" {
			out = append(out, id)
		}
	}
	r.log.Info("excerpts reranked",
		slog.String("theme", theme.Name),
		slog.Int("requested", len(excerptIDs)),
		slog.Int("scored", len(out)),
	)
	return out
}

func (r *Reranker) rerankOne(ctx context.Context, index, id string, queryVectors [][]float32) (string, error) {
	hits, err := r.store.GetDocuments(ctx, index, []string{id})
	if err != nil {
		return "", fmt.Errorf("load excerpt: %w", err)
	}
	if len(hits) == 0 {
		r.log.Warn("excerpt not found", slog.String("index", index), slog.String("excerpt_id", id))
		return "", nil
	}

	// Decoded generically so that fields unknown to this build survive the
	// rewrite.
	var doc map[string]any
	if err := json.Unmarshal(hits[0].Source, &doc); err != nil {
		return "", fmt.Errorf("decode excerpt: %w", err)
	}
	text, _ := doc["excerpt"].(string)
	if text == "" {
		return "", errNoText
	}

	vectors, err := r.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embed excerpt: %w", err)
	}

	doc[ScoreField] = MaxSimilarity(vectors[0], queryVectors)
	if err := r.store.IndexDocument(ctx, index, id, doc, true); err != nil {
		return "", err
	}
	return id, nil
}

// MaxSimilarity returns the highest cosine similarity between v and any of
// candidates, or 0 when there are none.
func MaxSimilarity(v []float32, candidates [][]float32) float64 {
	best := 0.0
	for i, c := range candidates {
		s := Cosine(v, c)
		if i == 0 || s > best {
			best = s
		}
	}
	return best
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
