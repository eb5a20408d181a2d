package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

// ExcerptSearchParams narrow the excerpt search endpoint query.
type ExcerptSearchParams struct {
	Query       string
	TerritoryID string
	StateCode   string
	Subtheme    string
	Start       *time.Time
	End         *time.Time
	MinScore    *float64
	From        int
	Size        int
	Sort        string
}

// ExcerptSearchResult bundles hits and total count.
type ExcerptSearchResult struct {
	Total int64
	Items []models.Excerpt
}

// SearchExcerpts executes a bool query over a theme index.
func (c *Client) SearchExcerpts(ctx context.Context, index string, params ExcerptSearchParams) (*ExcerptSearchResult, error) {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": excerptBool(params),
		},
		"sort": excerptSort(params.Sort),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search excerpts: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError("search excerpts", res)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.Excerpt `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.Excerpt, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &ExcerptSearchResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

func excerptBool(params ExcerptSearchParams) map[string]any {
	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 5)

	if params.Query != "" {
		must = append(must, map[string]any{
			"match": map[string]any{
				"excerpt": map[string]any{"query": params.Query},
			},
		})
	}

	terms := []struct{ field, value string }{
		{"source_territory_id", params.TerritoryID},
		{"source_state_code", strings.ToUpper(params.StateCode)},
		{"excerpt_subthemes", params.Subtheme},
	}
	for _, t := range terms {
		if t.value == "" {
			continue
		}
		filters = append(filters, map[string]any{
			"term": map[string]any{t.field: t.value},
		})
	}

	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.UTC().Format(time.DateOnly)
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.UTC().Format(time.DateOnly)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{"source_date": rangeQuery},
		})
	}

	if params.MinScore != nil {
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"excerpt_embedding_score": map[string]any{"gte": *params.MinScore},
			},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}
	return boolQuery
}

func excerptSort(sort string) []map[string]any {
	if sort == "" {
		sort = "source_date:desc"
	}

	parts := strings.Split(sort, ":")
	order := "desc"
	field := parts[0]
	if field == "" {
		field = "source_date"
	}
	if len(parts) > 1 && parts[1] != "" {
		order = parts[1]
	}
	return []map[string]any{
		{field: map[string]any{"order": order, "unmapped_type": "keyword"}},
	}
}
