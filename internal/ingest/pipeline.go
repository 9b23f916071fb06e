package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/riskfolio/internal/rag"
)

// Loader turns one source into documents.
type Loader interface {
	Load(ctx context.Context, src Source) ([]rag.Document, error)
}

// Summary describes one ingestion run.
type Summary struct {
	TotalSources int           `json:"total_sources"`
	DocsCount    int           `json:"docs_count"`
	ChunksCount  int           `json:"chunks_count"`
	DocsByKind   map[Kind]int  `json:"docs_by_kind"`
	Failed       []SourceError `json:"failed,omitempty"`
}

// Result is the output of a run: the chunks to index and a summary.
type Result struct {
	Chunks  []rag.Document
	Summary Summary
}

// Pipeline loads sources concurrently and chunks the resulting documents.
type Pipeline struct {
	loaders     map[Kind]Loader
	chunker     *rag.Chunker
	concurrency int
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline. concurrency bounds simultaneous loads.
func NewPipeline(chunker *rag.Chunker, loaders map[Kind]Loader, concurrency int, logger *slog.Logger) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{loaders: loaders, chunker: chunker, concurrency: concurrency, logger: logger}
}

// Run loads every source, skipping and recording the ones that fail. It
// returns ErrNoSources for an empty run and ErrNothingLoaded when no source
// yields any text. Documents keep the order of sources.
func (p *Pipeline) Run(ctx context.Context, sources []Source) (*Result, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	loaded := make([][]rag.Document, len(sources))
	var (
		mu     sync.Mutex
		failed []SourceError
		first  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			docs, err := p.load(gctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("source failed to load", "source", src.Name, "kind", src.Kind, "error", err)
				mu.Lock()
				failed = append(failed, SourceError{Source: src.Name, Kind: src.Kind, Error: err.Error()})
				if first == nil {
					first = err
				}
				mu.Unlock()
				return nil
			}
			loaded[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summary{TotalSources: len(sources), DocsByKind: map[Kind]int{}, Failed: failed}
	var docs []rag.Document
	for i, batch := range loaded {
		docs = append(docs, batch...)
		summary.DocsByKind[sources[i].Kind] += len(batch)
	}
	summary.DocsCount = len(docs)

	if len(docs) == 0 {
		if first != nil {
			return nil, fmt.Errorf("%w: %w", ErrNothingLoaded, first)
		}
		return nil, ErrNothingLoaded
	}

	chunks := p.chunker.Split(docs)
	if len(chunks) == 0 {
		return nil, ErrNothingLoaded
	}
	summary.ChunksCount = len(chunks)

	p.logger.Info("sources loaded",
		"sources", summary.TotalSources,
		"documents", summary.DocsCount,
		"chunks", summary.ChunksCount,
		"failed", len(failed))
	return &Result{Chunks: chunks, Summary: summary}, nil
}

func (p *Pipeline) load(ctx context.Context, src Source) ([]rag.Document, error) {
	loader, ok := p.loaders[src.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, src.Kind)
	}
	if src.Kind != KindPDF && src.URL == "" {
		return nil, errors.New("ingest: missing URL")
	}
	return loader.Load(ctx, src)
}
