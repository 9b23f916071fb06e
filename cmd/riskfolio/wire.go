package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/seenimoa/riskfolio/internal/advisor"
	"github.com/seenimoa/riskfolio/internal/config"
	"github.com/seenimoa/riskfolio/internal/infra"
	"github.com/seenimoa/riskfolio/internal/ingest"
	"github.com/seenimoa/riskfolio/internal/llm"
	"github.com/seenimoa/riskfolio/internal/metrics"
	"github.com/seenimoa/riskfolio/internal/rag"
)

// services are the components shared by serve, ingest and ask.
type services struct {
	store    *rag.Store
	pipeline *ingest.Pipeline
	advisor  *advisor.Advisor
	metrics  *metrics.Metrics
}

func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	pipeline, err := newPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	router, err := llm.NewRouterFromConfig(cfg, logger)
	if err != nil {
		if !errors.Is(err, llm.ErrNoProviders) {
			return nil, fmt.Errorf("LLM setup failed: %w", err)
		}
		// Scoring and ingestion still work; recommendations report 503.
		logger.Warn("no LLM provider configured", "error", err)
		router = llm.NewRouter(cfg.LLM.Primary, llm.WithLogger(logger))
	}

	retriever := rag.NewRetriever(rag.RetrieverConfig{
		TopK:          cfg.Retrieval.TopK,
		MinSimilarity: cfg.Retrieval.MinSimilarity,
	})
	adv := advisor.New(router, store, retriever, advisor.Config{
		CacheSize: cfg.Retrieval.CacheSize,
		CacheTTL:  time.Duration(cfg.Retrieval.CacheTTLSec) * time.Second,
	}, advisor.WithMetrics(m), advisor.WithLogger(logger))

	return &services{store: store, pipeline: pipeline, advisor: adv, metrics: m}, nil
}

// openStore opens the document store, reloading a persisted generation.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rag.Store, error) {
	embedder, err := rag.NewEmbedder(rag.EmbedderConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		GatewayKey: cfg.LLM.Clova.GatewayKey,
		AppID:      cfg.Embedding.ClovaApp,
		BaseURL:    cfg.Embedding.BaseURL,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		if !errors.Is(err, rag.ErrNoEmbeddingKey) {
			return nil, err
		}
		logger.Warn("no embedding credentials; ingestion and search are unavailable")
		embedder = unavailableEmbedder{err: err}
	}

	store, err := rag.NewStore(ctx, rag.StoreConfig{
		Collection: cfg.Store.Collection,
		PersistDir: cfg.Store.PersistDir,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if v := store.Version(); !v.IsZero() {
		logger.Info("store loaded", "generation", v.Generation, "documents", v.Documents)
	}
	return store, nil
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (*ingest.Pipeline, error) {
	chunker, err := rag.NewChunker(rag.ChunkerConfig{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Ingest.FetchTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	fetcher := infra.NewFetcher(
		infra.WithHTTPClient(&http.Client{Timeout: timeout}),
		infra.WithUserAgent(cfg.Ingest.UserAgent),
		infra.WithMaxBytes(int64(cfg.Ingest.MaxUploadMB)<<20),
		infra.WithRateLimiter(infra.NewRateLimiter(cfg.Ingest.FetchRPS, cfg.Ingest.Concurrency)),
	)

	loaders := map[ingest.Kind]ingest.Loader{
		ingest.KindPDF:  ingest.PDFLoader{},
		ingest.KindURL:  ingest.NewHTMLLoader(fetcher),
		ingest.KindFeed: ingest.NewFeedLoader(fetcher, 50),
	}
	return ingest.NewPipeline(chunker, loaders, cfg.Ingest.Concurrency, logger.With("component", "ingest")), nil
}

// unavailableEmbedder stands in when no embedding credentials are set.
type unavailableEmbedder struct{ err error }

func (e unavailableEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, e.err }

func (e unavailableEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, e.err
}

func (unavailableEmbedder) Dimensions() int { return 0 }
