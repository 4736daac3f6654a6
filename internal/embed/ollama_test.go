package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves just enough of the Ollama API for the embedder.
func fakeOllama(t *testing.T, models []string, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		infos := make([]ollamaModelInfo, len(models))
		for i, m := range models {
			infos[i] = ollamaModelInfo{Name: m}
		}
		_ = json.NewEncoder(w).Encode(ollamaModelListResponse{Models: infos})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if arr, ok := req.Input.([]any); ok {
			count = len(arr)
		}
		embeddings := make([][]float64, count)
		for i := range embeddings {
			vec := make([]float64, dims)
			vec[0] = 1
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: embeddings})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedderDiscoversModel(t *testing.T) {
	srv := fakeOllama(t, []string{"nomic-embed-text:latest"}, 768)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 768, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedderFallbackModel(t *testing.T) {
	srv := fakeOllama(t, []string{"mxbai-embed-large:latest"}, 1024)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.Model = "not-installed-model"
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "mxbai-embed-large:latest", e.ModelName())
}

func TestOllamaEmbedderNoModels(t *testing.T) {
	srv := fakeOllama(t, nil, 0)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	_, err := NewOllamaEmbedder(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding model available")
}

func TestOllamaEmbedderUnreachable(t *testing.T) {
	cfg := DefaultOllamaConfig()
	cfg.Host = "http://127.0.0.1:1"
	cfg.MaxRetries = 1
	_, err := NewOllamaEmbedder(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOllamaEmbedBatch(t *testing.T) {
	srv := fakeOllama(t, []string{"nomic-embed-text"}, 8)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	cfg.BatchSize = 2
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "", "d"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Len(t, vecs[0], 8)

	// Empty input short-circuits to a zero vector.
	assert.Equal(t, make([]float32, 8), vecs[2])
}

func TestOllamaEmbedderClosed(t *testing.T) {
	srv := fakeOllama(t, []string{"nomic-embed-text"}, 8)

	cfg := DefaultOllamaConfig()
	cfg.Host = srv.URL
	e, err := NewOllamaEmbedder(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestNewEmbedderAutoDetectFallsBack(t *testing.T) {
	// No Ollama at this address: auto-detection falls back to static.
	e, err := NewEmbedder(context.Background(), "", "", "http://127.0.0.1:1")
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, "static", e.ModelName())
}

func TestNewEmbedderExplicitOllamaFailsHard(t *testing.T) {
	_, err := NewEmbedder(context.Background(), ProviderOllama, "", "http://127.0.0.1:1")
	assert.Error(t, err)
}

func TestNewEmbedderStatic(t *testing.T) {
	e, err := NewEmbedder(context.Background(), ProviderStatic, "", "")
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("Ollama"))
	assert.Equal(t, ProviderStatic, ParseProvider("static"))
	assert.Equal(t, ProviderType(""), ParseProvider(""))
	assert.Equal(t, ProviderType(""), ParseProvider("openai"))
}
