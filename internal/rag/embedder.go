package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedding backends.
const (
	EmbedderOpenAI = "openai"
	EmbedderClova  = "clova"
)

// maxBatch is the largest number of texts sent in one API call.
const maxBatch = 100

// ErrNoEmbeddingKey is returned when the embedding backend has no credentials.
var ErrNoEmbeddingKey = errors.New("rag: embedding API key not configured")

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	Provider   string // "openai" or "clova"
	Model      string // e.g. "text-embedding-3-large"
	APIKey     string
	GatewayKey string // CLOVA only
	AppID      string // CLOVA embedding app id
	BaseURL    string // Optional, defaults per provider
	CacheSize  int    // LRU cache size, default 10000
	HTTPClient *http.Client
}

// Embedder generates text embeddings.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, or 0 when unknown.
	Dimensions() int
}

// backend calls a remote embedding API for at most maxBatch texts.
type backend interface {
	call(ctx context.Context, texts []string) ([][]float32, error)
	dimensions() int
}

// cachedEmbedder adds an LRU cache, batching and retries to a backend.
type cachedEmbedder struct {
	backend backend
	cache   *lru.Cache[string, []float32]
	retries int
	backoff time.Duration
}

// NewEmbedder creates the embedder selected by config.Provider.
func NewEmbedder(config EmbedderConfig) (Embedder, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = 10000
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	var b backend
	switch strings.ToLower(config.Provider) {
	case "", EmbedderOpenAI:
		if config.APIKey == "" {
			return nil, ErrNoEmbeddingKey
		}
		if config.Model == "" {
			config.Model = "text-embedding-3-large"
		}
		if config.BaseURL == "" {
			config.BaseURL = "https://api.openai.com/v1"
		}
		b = &openaiBackend{config: config}
	case EmbedderClova:
		if config.APIKey == "" || config.GatewayKey == "" {
			return nil, ErrNoEmbeddingKey
		}
		if config.Model == "" {
			config.Model = "clir-emb-dolphin"
		}
		if config.BaseURL == "" {
			config.BaseURL = "https://api-gateway-kr-northwest-1.naver.com"
		}
		b = &clovaBackend{config: config}
	default:
		return nil, fmt.Errorf("rag: unknown embedding provider %q", config.Provider)
	}

	return newCachedEmbedder(b, config.CacheSize)
}

func newCachedEmbedder(b backend, size int) (*cachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("rag: create embedding cache: %w", err)
	}
	return &cachedEmbedder{backend: b, cache: cache, retries: 3, backoff: time.Second}, nil
}

// Embed generates the embedding for a single text.
func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts, serving cached entries locally
// and sending the rest in batches of at most 100.
func (e *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("rag: no texts provided")
	}

	results := make([][]float32, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}

	for start := 0; start < len(uncachedTexts); start += maxBatch {
		end := min(start+maxBatch, len(uncachedTexts))
		embeddings, err := e.callWithRetry(ctx, uncachedTexts[start:end])
		if err != nil {
			return nil, err
		}
		for i, emb := range embeddings {
			idx := uncachedIndices[start+i]
			e.cache.Add(texts[idx], emb)
			results[idx] = emb
		}
	}
	return results, nil
}

func (e *cachedEmbedder) Dimensions() int {
	return e.backend.dimensions()
}

// callWithRetry retries failed calls with exponential backoff.
func (e *cachedEmbedder) callWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.backoff << (attempt - 1)):
			}
		}
		embeddings, err := e.backend.call(ctx, texts)
		if err == nil {
			if len(embeddings) != len(texts) {
				return nil, fmt.Errorf("rag: embedding count mismatch: got %d, want %d", len(embeddings), len(texts))
			}
			return embeddings, nil
		}
		lastErr = err
		if errors.Is(err, ErrNoEmbeddingKey) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("rag: embed batch after retries: %w", lastErr)
}

// ── OpenAI ──

type openaiBackend struct {
	config EmbedderConfig
}

func (b *openaiBackend) dimensions() int {
	switch b.config.Model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return 0
	}
}

func (b *openaiBackend) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": b.config.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.config.APIKey)

	resp, err := b.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if err := embeddingStatus(resp); err != nil {
		return nil, err
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("invalid index: %d", item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	return embeddings, nil
}

// ── CLOVA Studio ──

type clovaBackend struct {
	config EmbedderConfig
}

func (b *clovaBackend) dimensions() int { return 0 }

func (b *clovaBackend) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"appId": b.config.AppID,
		"texts": texts,
		"model": b.config.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(b.config.BaseURL, "/") + "/clovastudio/v1/embedding"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-NCP-APIGW-API-KEY-ID", b.config.GatewayKey)
	req.Header.Set("X-NCP-APIGW-API-KEY", b.config.APIKey)

	resp, err := b.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if err := embeddingStatus(resp); err != nil {
		return nil, err
	}

	var apiResp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return apiResp.Embeddings, nil
}

func embeddingStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrNoEmbeddingKey, string(bodyBytes))
	}
	return fmt.Errorf("API error %d: %s", resp.StatusCode, string(bodyBytes))
}
