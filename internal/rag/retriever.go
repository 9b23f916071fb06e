package rag

import (
	"context"
	"fmt"
	"strings"
)

// RetrieverConfig holds retrieval configuration.
type RetrieverConfig struct {
	TopK          int     // Number of results to return (default: 5)
	MinSimilarity float32 // Minimum similarity threshold (0.0-1.0)
}

// Retriever searches a store snapshot.
type Retriever struct {
	config RetrieverConfig
}

// NewRetriever creates a new retriever.
func NewRetriever(config RetrieverConfig) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	return &Retriever{config: config}
}

// TopK returns the configured result count.
func (r *Retriever) TopK() int {
	return r.config.TopK
}

// Search returns the chunks of snap most similar to query.
func (r *Retriever) Search(ctx context.Context, snap *Snapshot, query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	results, err := snap.Query(ctx, query, r.config.TopK, r.config.MinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}
	return results, nil
}

// FormatContext renders results as numbered excerpts with their source,
// for inclusion in a prompt.
func FormatContext(results []SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, result := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		source := result.Document.Source()
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&sb, "[%d] %s", i+1, source)
		if page := result.Document.Metadata["page"]; page != "" {
			fmt.Fprintf(&sb, " (p.%s)", page)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(result.Document.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}
