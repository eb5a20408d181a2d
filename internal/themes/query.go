package themes

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

const (
	// SearchField is analyzed without stopword removal so that phrases
	// such as "educação de jovens" keep every token.
	SearchField = "source_text.with_stopwords"

	phraseSlop    = 0
	proximitySlop = 20

	fragmentSize      = 2000
	numberOfFragments = 10
)

// ErrEmptyTermSet is returned when a term-set yields no tokens at all.
var ErrEmptyTermSet = errors.New("term set has no tokens")

// Analyzer tokenizes text with the analyzer of a field of index.
type Analyzer interface {
	Analyze(ctx context.Context, index, field, text string) ([]string, error)
}

// QueryBuilder turns a theme query into an Elasticsearch span query.
type QueryBuilder struct {
	analyzer Analyzer
	index    string
	pool     *workpool.Pool
}

// NewQueryBuilder tokenizes terms against the analyzer of index.
func NewQueryBuilder(analyzer Analyzer, index string, pool *workpool.Pool) *QueryBuilder {
	return &QueryBuilder{analyzer: analyzer, index: index, pool: pool}
}

// Build returns the search body matching query inside the documents ids.
//
// Each term-set becomes a span_or of exact phrases, each macro-set a
// span_near of its term-sets within proximitySlop positions in any order, and
// the query a span_or of its macro-sets. Blocks keep the input order. A single
// tokenization failure fails the whole query.
func (b *QueryBuilder) Build(ctx context.Context, query models.ThemeQuery, ids []string) (map[string]any, error) {
	if len(query.TermSets) == 0 {
		return nil, fmt.Errorf("query %q has no term sets", query.Title)
	}

	macroBlocks, failures := workpool.Map(ctx, b.pool, "macro_set", indexes(len(query.TermSets)),
		strconv.Itoa,
		func(ctx context.Context, i int) (map[string]any, error) {
			return b.macroSet(ctx, query.TermSets[i])
		})
	if err := joinFailures(failures); err != nil {
		return nil, fmt.Errorf("build query %q: %w", query.Title, err)
	}

	return map[string]any{
		"size": len(ids),
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					spanOr(macroBlocks),
				},
				"filter": map[string]any{
					"ids": map[string]any{"values": ids},
				},
			},
		},
		"highlight": map[string]any{
			"fields": map[string]any{
				SearchField: map[string]any{
					"type":                "unified",
					"fragment_size":       fragmentSize,
					"number_of_fragments": numberOfFragments,
					"pre_tags":            []string{""},
					"post_tags":           []string{""},
				},
			},
		},
	}, nil
}

func (b *QueryBuilder) macroSet(ctx context.Context, macroSet [][]string) (map[string]any, error) {
	if len(macroSet) == 0 {
		return nil, errors.New("empty macro set")
	}

	termBlocks, failures := workpool.Map(ctx, b.pool, "term_set", macroSet,
		func(terms []string) string { return fmt.Sprint(terms) },
		b.termSet)
	if err := joinFailures(failures); err != nil {
		return nil, err
	}
	return spanNear(termBlocks, proximitySlop, false), nil
}

func (b *QueryBuilder) termSet(ctx context.Context, terms []string) (map[string]any, error) {
	phrases := make([]map[string]any, 0, len(terms))
	for _, term := range terms {
		tokens, err := b.analyzer.Analyze(ctx, b.index, SearchField, term)
		if err != nil {
			return nil, fmt.Errorf("analyze %q: %w", term, err)
		}
		if len(tokens) == 0 {
			continue
		}

		words := make([]map[string]any, 0, len(tokens))
		for _, token := range tokens {
			words = append(words, map[string]any{
				"span_term": map[string]any{SearchField: token},
			})
		}
		phrases = append(phrases, spanNear(words, phraseSlop, true))
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrEmptyTermSet, terms)
	}
	return spanOr(phrases), nil
}

func spanNear(clauses []map[string]any, slop int, inOrder bool) map[string]any {
	return map[string]any{
		"span_near": map[string]any{
			"clauses":  clauses,
			"slop":     slop,
			"in_order": inOrder,
		},
	}
}

func spanOr(clauses []map[string]any) map[string]any {
	return map[string]any{
		"span_or": map[string]any{
			"clauses": clauses,
		},
	}
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func joinFailures(failures []workpool.Failure) error {
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failures))
	for _, f := range failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}
