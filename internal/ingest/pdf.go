package ingest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/seenimoa/riskfolio/internal/rag"
)

// PDFLoader extracts plain text from PDFs, one document per page.
type PDFLoader struct{}

// Load parses src.Data.
func (PDFLoader) Load(ctx context.Context, src Source) ([]rag.Document, error) {
	return loadPDF(ctx, src.Name, src.Data)
}

func loadPDF(ctx context.Context, name string, data []byte) (docs []rag.Document, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("ingest: parse pdf %s: %v", name, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("ingest: open pdf %s: %w", name, err)
	}

	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("ingest: read pdf %s page %d: %w", name, i, err)
		}
		text = normalizeSpace(text)
		if text == "" {
			continue
		}
		docs = append(docs, rag.Document{
			Content: text,
			Metadata: map[string]string{
				"source": name,
				"kind":   string(KindPDF),
				"page":   strconv.Itoa(i),
			},
		})
	}
	return docs, nil
}

// normalizeSpace trims every line and collapses runs of blank lines.
func normalizeSpace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
