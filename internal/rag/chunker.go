package rag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
)

// ChunkerConfig holds chunking configuration.
type ChunkerConfig struct {
	ChunkSize    int // Tokens per chunk (default: 1000)
	ChunkOverlap int // Token overlap between chunks (default: 200)

	// Length measures text in tokens. Nil selects cl100k_base, falling
	// back to a rune estimate when the encoding cannot be loaded.
	Length func(string) int
}

// separators are tried in order; the empty separator splits into runes.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits documents into overlapping chunks, preferring paragraph,
// line, sentence and word boundaries in that order.
type Chunker struct {
	size    int
	overlap int
	length  func(string) int
}

// NewChunker creates a Chunker.
func NewChunker(config ChunkerConfig) (*Chunker, error) {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("rag: chunk overlap %d must be smaller than chunk size %d", config.ChunkOverlap, config.ChunkSize)
	}
	if config.Length == nil {
		config.Length = tokenLength()
	}
	return &Chunker{size: config.ChunkSize, overlap: config.ChunkOverlap, length: config.Length}, nil
}

// tokenLength returns a cl100k_base token counter, or a rune-based
// estimate when the encoding is unavailable (it is fetched on first use).
func tokenLength() func(string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return estimateTokens
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

// estimateTokens approximates a token count as max(runes/2, words).
// Hangul averages close to two runes per cl100k token.
func estimateTokens(s string) int {
	runes := utf8.RuneCountInString(s)
	words := len(strings.Fields(s))
	return max(runes/2, words)
}

// Split chunks every document. Chunks inherit the document metadata plus a
// "chunk" index and receive fresh IDs.
func (c *Chunker) Split(docs []Document) []Document {
	var out []Document
	for _, doc := range docs {
		for i, text := range c.SplitText(doc.Content) {
			meta := cloneMetadata(doc.Metadata)
			meta["chunk"] = strconv.Itoa(i)
			out = append(out, Document{
				ID:       uuid.NewString(),
				Content:  text,
				Metadata: meta,
			})
		}
	}
	return out
}

// SplitText splits text into chunks of at most ChunkSize tokens where the
// separators allow it. Blank input yields no chunks.
func (c *Chunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, separators)
}

func (c *Chunker) split(text string, seps []string) []string {
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, good []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if c.length(p) < c.size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks up to the size limit, carrying up to
// overlap tokens of trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string, sep string) []string {
	sepLen := c.length(sep)
	var chunks, current []string
	total := 0

	for _, p := range pieces {
		l := c.length(p)
		joinLen := 0
		if len(current) > 0 {
			joinLen = sepLen
		}
		if total+l+joinLen > c.size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(current) > 0 && (total > c.overlap || (total+l+sepLen > c.size && total > 0)) {
				drop := c.length(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += l
	}
	if chunk := strings.TrimSpace(strings.Join(current, sep)); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func cloneMetadata(src map[string]string) map[string]string {
	out := make(map[string]string, len(src)+1)
	for key, value := range src {
		out[key] = value
	}
	return out
}
