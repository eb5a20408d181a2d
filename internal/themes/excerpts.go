package themes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/processing"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

const (
	// MinExcerptLength drops fragments far shorter than fragmentSize; they
	// are rare but tend to score high.
	MinExcerptLength = 200

	// IDBatchSize caps the ids filter of a single search.
	IDBatchSize = 500
)

// SearchIndex is the part of the search backend used to extract excerpts.
type SearchIndex interface {
	Analyzer
	Search(ctx context.Context, index string, body map[string]any) ([]elasticsearch.Hit, error)
	IndexDocument(ctx context.Context, index, id string, doc any, refresh bool) error
}

// Extractor writes themed excerpts of indexed gazettes to theme indexes.
type Extractor struct {
	index        SearchIndex
	gazetteIndex string
	builder      *QueryBuilder
	pool         *workpool.Pool
	log          *slog.Logger
}

// NewExtractor searches gazetteIndex through index.
func NewExtractor(index SearchIndex, gazetteIndex string, pool *workpool.Pool, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Extractor{
		index:        index,
		gazetteIndex: gazetteIndex,
		builder:      NewQueryBuilder(index, gazetteIndex, pool),
		pool:         pool,
		log:          logger,
	}
}

// ExtractThemedExcerpts runs every query of theme over gazetteIDs and returns
// the ids of the excerpts written to theme.Index. Failures are logged and
// never abort the batch.
func (e *Extractor) ExtractThemedExcerpts(ctx context.Context, theme models.Theme, gazetteIDs []string) []string {
	if len(gazetteIDs) == 0 {
		return nil
	}

	perQuery, _ := workpool.Map(ctx, e.pool, "theme_query", theme.Queries,
		func(q models.ThemeQuery) string { return q.Title },
		func(ctx context.Context, q models.ThemeQuery) ([]string, error) {
			return e.extractQuery(ctx, theme, q, gazetteIDs), nil
		})

	seen := make(map[string]struct{})
	var ids []string
	for _, list := range perQuery {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	e.log.Info("themed excerpts extracted",
		slog.String("theme", theme.Name),
		slog.Int("gazettes", len(gazetteIDs)),
		slog.Int("excerpts", len(ids)),
	)
	return ids
}

func (e *Extractor) extractQuery(ctx context.Context, theme models.Theme, query models.ThemeQuery, gazetteIDs []string) []string {
	var ids []string
	for start := 0; start < len(gazetteIDs); start += IDBatchSize {
		end := min(start+IDBatchSize, len(gazetteIDs))
		batch := gazetteIDs[start:end]

		excerpts, err := e.excerpts(ctx, query, batch)
		if err != nil {
			e.log.Warn("themed query failed",
				slog.String("theme", theme.Name),
				slog.String("query", query.Title),
				slog.Int("batch_start", start),
				slog.Any("err", err),
			)
			continue
		}

		kept := excerpts[:0]
		for _, ex := range excerpts {
			if utf8.RuneCountInString(ex.Excerpt) < MinExcerptLength {
				continue
			}
			kept = append(kept, ex)
		}

		written, _ := workpool.Map(ctx, e.pool, "index_excerpt", kept,
			func(ex models.Excerpt) string { return ex.ExcerptID },
			func(ctx context.Context, ex models.Excerpt) (string, error) {
				if err := e.index.IndexDocument(ctx, theme.Index, ex.ExcerptID, ex, true); err != nil {
					return "", err
				}
				return ex.ExcerptID, nil
			})
		ids = append(ids, written...)
	}
	return ids
}

// excerpts runs the themed query over one batch of ids and turns every
// highlighted fragment into an excerpt record.
func (e *Extractor) excerpts(ctx context.Context, query models.ThemeQuery, ids []string) ([]models.Excerpt, error) {
	body, err := e.builder.Build(ctx, query, ids)
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Search(ctx, e.gazetteIndex, body)
	if err != nil {
		return nil, fmt.Errorf("search gazettes: %w", err)
	}

	perHit, _ := workpool.Map(ctx, e.pool, "excerpt_document", hits,
		func(h elasticsearch.Hit) string { return h.ID },
		func(_ context.Context, h elasticsearch.Hit) ([]models.Excerpt, error) {
			return excerptsFromHit(h, query.Title)
		})

	var out []models.Excerpt
	for _, list := range perHit {
		out = append(out, list...)
	}
	return out, nil
}

func excerptsFromHit(hit elasticsearch.Hit, subtheme string) ([]models.Excerpt, error) {
	var gazette models.Gazette
	if err := json.Unmarshal(hit.Source, &gazette); err != nil {
		return nil, fmt.Errorf("decode gazette %s: %w", hit.ID, err)
	}

	fragments := hit.Highlight[SearchField]
	out := make([]models.Excerpt, 0, len(fragments))
	for _, fragment := range fragments {
		id := processing.ExcerptID(gazette.FileChecksum, fragment)
		out = append(out, models.NewExcerpt(id, processing.CleanWhitespace(fragment), subtheme, gazette))
	}
	return out, nil
}
