package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/riskfolio/internal/infra"
	"github.com/seenimoa/riskfolio/internal/rag"
)

// noise is removed before text extraction.
const noise = "script, style, noscript, nav, header, footer, aside, form, iframe, svg"

// HTMLLoader fetches a web page and extracts its readable text. URLs that
// serve a PDF are handed to the PDF loader.
type HTMLLoader struct {
	fetcher *infra.Fetcher
}

// NewHTMLLoader creates an HTMLLoader.
func NewHTMLLoader(fetcher *infra.Fetcher) *HTMLLoader {
	return &HTMLLoader{fetcher: fetcher}
}

// Load fetches src.URL.
func (l *HTMLLoader) Load(ctx context.Context, src Source) ([]rag.Document, error) {
	page, err := l.fetcher.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	if page.ContentType == "application/pdf" || bytes.HasPrefix(page.Body, []byte("%PDF-")) {
		docs, err := loadPDF(ctx, src.Name, page.Body)
		for i := range docs {
			docs[i].Metadata["kind"] = string(KindURL)
		}
		return docs, err
	}

	title, text, err := extractHTML(page.Body)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse html %s: %w", src.URL, err)
	}
	if text == "" {
		return nil, nil
	}
	meta := map[string]string{
		"source": src.Name,
		"kind":   string(KindURL),
	}
	if title != "" {
		meta["title"] = title
	}
	return []rag.Document{{Content: text, Metadata: meta}}, nil
}

// extractHTML returns the page title and the visible body text, one block
// element per line.
func extractHTML(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noise).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 || strings.TrimSpace(root.Text()) == "" {
		root = doc.Find("body")
	}
	// Break block elements onto their own lines before flattening.
	root.Find("p, div, li, br, h1, h2, h3, h4, h5, h6, tr, section").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return title, normalizeSpace(root.Text()), nil
}

// cleanHTML strips HTML tags from a fragment using goquery.
func cleanHTML(s string) string {
	if !strings.Contains(s, "<") {
		return normalizeSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return normalizeSpace(s)
	}
	doc.Find("script, style").Remove()
	doc.Find("p, div, li, br").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return normalizeSpace(doc.Find("body").Text())
}
