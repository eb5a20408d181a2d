package themes_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/themes"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

const expectedQuery = `{
  "size": 2,
  "query": {"bool": {
    "must": [{"span_or": {"clauses": [
      {"span_near": {"slop": 20, "in_order": false, "clauses": [
        {"span_or": {"clauses": [
          {"span_near": {"slop": 0, "in_order": true, "clauses": [
            {"span_term": {"source_text.with_stopwords": "educação"}},
            {"span_term": {"source_text.with_stopwords": "de"}},
            {"span_term": {"source_text.with_stopwords": "jovens"}}
          ]}},
          {"span_near": {"slop": 0, "in_order": true, "clauses": [
            {"span_term": {"source_text.with_stopwords": "eja"}}
          ]}}
        ]}},
        {"span_or": {"clauses": [
          {"span_near": {"slop": 0, "in_order": true, "clauses": [
            {"span_term": {"source_text.with_stopwords": "escola"}}
          ]}},
          {"span_near": {"slop": 0, "in_order": true, "clauses": [
            {"span_term": {"source_text.with_stopwords": "colégio"}},
            {"span_term": {"source_text.with_stopwords": "estadual"}}
          ]}}
        ]}}
      ]}}
    ]}}],
    "filter": {"ids": {"values": ["a", "b"]}}
  }},
  "highlight": {"fields": {"source_text.with_stopwords": {
    "type": "unified",
    "fragment_size": 2000,
    "number_of_fragments": 10,
    "pre_tags": [""],
    "post_tags": [""]
  }}}
}`

func educationQuery() models.ThemeQuery {
	return models.ThemeQuery{
		Title: "Educação de jovens e adultos",
		TermSets: [][][]string{{
			{"educação de jovens", "EJA"},
			{"escola", "colégio estadual"},
		}},
	}
}

func newPool(t *testing.T, size int) *workpool.Pool {
	t.Helper()
	pool, err := workpool.New(size)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func TestBuildQueryShape(t *testing.T) {
	builder := themes.NewQueryBuilder(newStubIndex(), "gazettes", newPool(t, 2))

	body, err := builder.Build(context.Background(), educationQuery(), []string{"a", "b"})
	require.NoError(t, err)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.JSONEq(t, expectedQuery, string(raw))
}

func TestBuildQueryKeepsMacroSetOrder(t *testing.T) {
	query := models.ThemeQuery{
		Title: "ordem",
		TermSets: [][][]string{
			{{"primeiro"}},
			{{"segundo"}},
			{{"terceiro"}},
		},
	}

	for i := 0; i < 20; i++ {
		body, err := themes.NewQueryBuilder(newStubIndex(), "gazettes", newPool(t, 3)).
			Build(context.Background(), query, []string{"a"})
		require.NoError(t, err)

		raw, err := json.Marshal(body)
		require.NoError(t, err)

		var parsed struct {
			Query struct {
				Bool struct {
					Must []struct {
						SpanOr struct {
							Clauses []struct {
								SpanNear struct {
									Clauses []struct {
										SpanOr struct {
											Clauses []struct {
												SpanNear struct {
													Clauses []struct {
														SpanTerm map[string]string `json:"span_term"`
													} `json:"clauses"`
												} `json:"span_near"`
											} `json:"clauses"`
										} `json:"span_or"`
									} `json:"clauses"`
								} `json:"span_near"`
							} `json:"clauses"`
						} `json:"span_or"`
					} `json:"must"`
				} `json:"bool"`
			} `json:"query"`
		}
		require.NoError(t, json.Unmarshal(raw, &parsed))

		var words []string
		for _, macro := range parsed.Query.Bool.Must[0].SpanOr.Clauses {
			term := macro.SpanNear.Clauses[0].SpanOr.Clauses[0].SpanNear.Clauses[0]
			words = append(words, term.SpanTerm[themes.SearchField])
		}
		require.Equal(t, []string{"primeiro", "segundo", "terceiro"}, words)
	}
}

func TestBuildQueryFailsOnTokenizationError(t *testing.T) {
	index := newStubIndex()
	errAnalyze := errors.New("analyzer unavailable")
	index.analyzeErr["colégio estadual"] = errAnalyze

	_, err := themes.NewQueryBuilder(index, "gazettes", newPool(t, 2)).
		Build(context.Background(), educationQuery(), []string{"a"})
	require.ErrorIs(t, err, errAnalyze)
	require.ErrorContains(t, err, "Educação de jovens e adultos")
}

func TestBuildQueryRejectsEmptyTermSet(t *testing.T) {
	query := models.ThemeQuery{Title: "vazio", TermSets: [][][]string{{{"  "}}}}

	_, err := themes.NewQueryBuilder(newStubIndex(), "gazettes", nil).Build(context.Background(), query, []string{"a"})
	require.ErrorIs(t, err, themes.ErrEmptyTermSet)

	_, err = themes.NewQueryBuilder(newStubIndex(), "gazettes", nil).
		Build(context.Background(), models.ThemeQuery{Title: "sem termos"}, []string{"a"})
	require.Error(t, err)
}

func TestBuildQuerySkipsSynonymWithoutTokens(t *testing.T) {
	query := models.ThemeQuery{Title: "t", TermSets: [][][]string{{{"", "escola"}}}}

	body, err := themes.NewQueryBuilder(newStubIndex(), "gazettes", nil).Build(context.Background(), query, []string{"a"})
	require.NoError(t, err)

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"escola"`)
}
