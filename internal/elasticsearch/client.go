package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/resilience"
)

// Client wraps go-elasticsearch with the calls the pipeline needs.
// Index arguments left empty fall back to the gazettes index.
type Client struct {
	es    *elasticsearch.Client
	index string
	exec  *resilience.Executor
	log   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithExecutor runs writes through exec.
func WithExecutor(exec *resilience.Executor) Option {
	return func(c *Client) {
		c.exec = exec
	}
}

// Hit is a search or mget result.
type Hit struct {
	ID        string
	Index     string
	Source    json.RawMessage
	Highlight map[string][]string
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Client{es: es, index: index, log: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) indexOr(index string) string {
	if index == "" {
		return c.index
	}
	return index
}

func statusError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	return &resilience.StatusError{
		Operation: op,
		Status:    res.StatusCode,
		Body:      strings.TrimSpace(string(body)),
	}
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// IndexDocument upserts doc under id. With refresh set the document is
// searchable when the call returns.
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc any, refresh bool) error {
	index = c.indexOr(index)
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", models.ErrIndexing, id, err)
	}

	refreshParam := "false"
	if refresh {
		refreshParam = "true"
	}

	err = c.exec.Execute(ctx, "elasticsearch.index", func(ctx context.Context) error {
		req := esapi.IndexRequest{
			Index:      index,
			DocumentID: id,
			Body:       bytes.NewReader(payload),
			Refresh:    refreshParam,
		}

		res, err := req.Do(ctx, c.es)
		if err != nil {
			return fmt.Errorf("index doc: %w", err)
		}
		defer res.Body.Close()

		if res.IsError() {
			return statusError("index doc", res)
		}
		return nil
	}, resilience.Transient)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %w", models.ErrIndexing, index, id, err)
	}

	c.log.Debug("document indexed", slog.String("index", index), slog.String("id", id))
	return nil
}

// Analyze returns the tokens the analyzer of field produces for text.
func (c *Client) Analyze(ctx context.Context, index, field, text string) ([]string, error) {
	payload, err := json.Marshal(map[string]any{
		"field": field,
		"text":  text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal analyze body: %w", err)
	}

	res, err := c.es.Indices.Analyze(
		c.es.Indices.Analyze.WithContext(ctx),
		c.es.Indices.Analyze.WithIndex(c.indexOr(index)),
		c.es.Indices.Analyze.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError("analyze", res)
	}

	var parsed struct {
		Tokens []struct {
			Token string `json:"token"`
		} `json:"tokens"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}

	tokens := make([]string, 0, len(parsed.Tokens))
	for _, t := range parsed.Tokens {
		tokens = append(tokens, t.Token)
	}
	return tokens, nil
}

type rawHit struct {
	ID        string              `json:"_id"`
	Index     string              `json:"_index"`
	Found     *bool               `json:"found,omitempty"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

func (h rawHit) hit() Hit {
	return Hit{ID: h.ID, Index: h.Index, Source: h.Source, Highlight: h.Highlight}
}

// Search runs a raw query body and returns its hits.
func (c *Client) Search(ctx context.Context, index string, body map[string]any) ([]Hit, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.indexOr(index)),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError("search", res)
	}

	var parsed struct {
		Hits struct {
			Hits []rawHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, h.hit())
	}
	return hits, nil
}

// GetDocuments fetches documents by id. Missing ids are skipped.
func (c *Client) GetDocuments(ctx context.Context, index string, ids []string) ([]Hit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]any{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("marshal mget body: %w", err)
	}

	res, err := c.es.Mget(
		bytes.NewReader(payload),
		c.es.Mget.WithContext(ctx),
		c.es.Mget.WithIndex(c.indexOr(index)),
	)
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError("mget", res)
	}

	var parsed struct {
		Docs []rawHit `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mget response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Docs))
	for _, d := range parsed.Docs {
		if d.Found != nil && !*d.Found {
			continue
		}
		hits = append(hits, d.hit())
	}
	return hits, nil
}

// DeleteOlderThan removes documents whose field is before cutoff using
// batched delete-by-query. It loops until a batch returns fewer deleted
// documents than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, index, field string, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	totalDeleted := int64(0)
	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					field: map[string]any{
						"lt": cutoff.UTC().Format(time.DateOnly),
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.indexOr(index)},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			err := statusError("delete by query", res)
			res.Body.Close()
			return totalDeleted, err
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// Health checks the cluster health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}
