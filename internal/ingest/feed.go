package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/riskfolio/internal/infra"
	"github.com/seenimoa/riskfolio/internal/rag"
)

// FeedLoader turns each RSS or Atom item into a document.
type FeedLoader struct {
	fetcher  *infra.Fetcher
	parser   *gofeed.Parser
	maxItems int
}

// NewFeedLoader creates a FeedLoader keeping at most maxItems items per
// feed (0 keeps all).
func NewFeedLoader(fetcher *infra.Fetcher, maxItems int) *FeedLoader {
	return &FeedLoader{fetcher: fetcher, parser: gofeed.NewParser(), maxItems: maxItems}
}

// Load fetches and parses src.URL.
func (l *FeedLoader) Load(ctx context.Context, src Source) ([]rag.Document, error) {
	raw, err := l.fetcher.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	feed, err := l.parser.Parse(bytes.NewReader(raw.Body))
	if err != nil {
		return nil, fmt.Errorf("ingest: parse feed %s: %w", src.URL, err)
	}

	items := feed.Items
	if l.maxItems > 0 && len(items) > l.maxItems {
		items = items[:l.maxItems]
	}

	docs := make([]rag.Document, 0, len(items))
	for _, item := range items {
		var parts []string
		if t := strings.TrimSpace(item.Title); t != "" {
			parts = append(parts, t)
		}
		if d := cleanHTML(item.Description); d != "" {
			parts = append(parts, d)
		}
		if c := cleanHTML(item.Content); c != "" && !strings.Contains(strings.Join(parts, "\n"), c) {
			parts = append(parts, c)
		}
		if len(parts) == 0 {
			continue
		}

		source := item.Link
		if source == "" {
			source = src.Name
		}
		meta := map[string]string{
			"source": source,
			"kind":   string(KindFeed),
			"feed":   src.Name,
			"title":  strings.TrimSpace(item.Title),
		}
		if feed.Title != "" {
			meta["feed_title"] = feed.Title
		}
		if item.PublishedParsed != nil {
			meta["published"] = item.PublishedParsed.UTC().Format(time.RFC3339)
		}
		docs = append(docs, rag.Document{Content: strings.Join(parts, "\n\n"), Metadata: meta})
	}
	return docs, nil
}
