package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openAIEmbeddingServer answers /embeddings with vectors [len(text), index].
func openAIEmbeddingServer(t *testing.T, calls *atomic.Int32, failFirst int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-large", req.Model)
		assert.LessOrEqual(t, len(req.Input), maxBatch)

		type item struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Reverse order to check results are placed by index.
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = item{Embedding: []float32{float32(len(req.Input[j])), float32(j)}, Index: j}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func newFastEmbedder(t *testing.T, cfg EmbedderConfig) *cachedEmbedder {
	t.Helper()
	e, err := NewEmbedder(cfg)
	require.NoError(t, err)
	ce := e.(*cachedEmbedder)
	ce.backoff = time.Millisecond
	return ce
}

func TestOpenAIEmbedderBatchAndCache(t *testing.T) {
	var calls atomic.Int32
	server := openAIEmbeddingServer(t, &calls, 0)
	defer server.Close()

	e := newFastEmbedder(t, EmbedderConfig{APIKey: "sk-test", BaseURL: server.URL})
	assert.Equal(t, 3072, e.Dimensions())

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = string(rune('a'+i%26)) + string(make([]byte, i%7))
	}
	texts[0], texts[1] = "x", "yy"

	got, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, 150)
	assert.Equal(t, []float32{1, 0}, got[0])
	assert.Equal(t, float32(2), got[1][0])
	assert.Equal(t, int32(2), calls.Load(), "150 texts need two batches")

	again, err := e.Embed(context.Background(), "yy")
	require.NoError(t, err)
	assert.Equal(t, got[1], again)
	assert.Equal(t, int32(2), calls.Load(), "cached text must not hit the API")
}

func TestOpenAIEmbedderRetries(t *testing.T) {
	var calls atomic.Int32
	server := openAIEmbeddingServer(t, &calls, 2)
	defer server.Close()

	e := newFastEmbedder(t, EmbedderConfig{APIKey: "sk-test", BaseURL: server.URL})
	got, err := e.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0}, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedderUnauthorizedDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	e := newFastEmbedder(t, EmbedderConfig{APIKey: "sk-bad", BaseURL: server.URL})
	_, err := e.Embed(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrNoEmbeddingKey)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClovaEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clovastudio/v1/embedding", r.URL.Path)
		assert.Equal(t, "gw", r.Header.Get("X-NCP-APIGW-API-KEY-ID"))
		assert.Equal(t, "key", r.Header.Get("X-NCP-APIGW-API-KEY"))

		var req struct {
			AppID string   `json:"appId"`
			Texts []string `json:"texts"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "app-1", req.AppID)
		assert.Equal(t, "clir-emb-dolphin", req.Model)

		out := make([][]float32, len(req.Texts))
		for i := range req.Texts {
			out[i] = []float32{float32(i), 1}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer server.Close()

	e := newFastEmbedder(t, EmbedderConfig{
		Provider: EmbedderClova, APIKey: "key", GatewayKey: "gw", AppID: "app-1", BaseURL: server.URL,
	})
	got, err := e.EmbedBatch(context.Background(), []string{"채권", "주식"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, got)
}

func TestNewEmbedderValidation(t *testing.T) {
	_, err := NewEmbedder(EmbedderConfig{})
	assert.ErrorIs(t, err, ErrNoEmbeddingKey)

	_, err = NewEmbedder(EmbedderConfig{Provider: EmbedderClova, APIKey: "k"})
	assert.ErrorIs(t, err, ErrNoEmbeddingKey)

	_, err = NewEmbedder(EmbedderConfig{Provider: "word2vec", APIKey: "k"})
	assert.Error(t, err)

	e := newFastEmbedder(t, EmbedderConfig{APIKey: "k"})
	_, err = e.EmbedBatch(context.Background(), nil)
	assert.Error(t, err)
}
