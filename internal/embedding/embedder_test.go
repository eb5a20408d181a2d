package embedding_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/gazette-radar/backend/internal/embedding"
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

func newEmbeddingServer(t *testing.T) (*httptest.Server, *[]embeddingRequest) {
	t.Helper()
	var seen []embeddingRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)

		data := make([]map[string]any, 0, len(req.Input))
		for i, text := range req.Input {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(text)), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestEmbedTexts(t *testing.T) {
	srv, seen := newEmbeddingServer(t)

	e, err := embedding.New(embedding.Config{Host: srv.URL, Model: "multilingual-e5"}, nil)
	require.NoError(t, err)

	vectors, err := e.EmbedTexts(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{2, 1}, {4, 1}}, vectors)

	require.NotEmpty(t, *seen)
	require.Equal(t, "multilingual-e5", (*seen)[0].Model)
}

func TestEmbedTextsEmpty(t *testing.T) {
	srv, seen := newEmbeddingServer(t)

	e, err := embedding.New(embedding.Config{Host: srv.URL, Model: "m"}, nil)
	require.NoError(t, err)

	vectors, err := e.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
	require.Empty(t, *seen)
}

func TestNewRequiresHostAndModel(t *testing.T) {
	_, err := embedding.New(embedding.Config{Model: "m"}, nil)
	require.Error(t, err)

	_, err = embedding.New(embedding.Config{Host: "http://localhost"}, nil)
	require.Error(t, err)
}
