package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runeChunker(t *testing.T, size, overlap int) *Chunker {
	t.Helper()
	c, err := NewChunker(ChunkerConfig{ChunkSize: size, ChunkOverlap: overlap, Length: utf8.RuneCountInString})
	require.NoError(t, err)
	return c
}

func TestChunkerRespectsSize(t *testing.T) {
	c := runeChunker(t, 40, 10)
	text := strings.Repeat("The fund rebalanced toward short duration bonds. ", 12)

	chunks := c.SplitText(text)
	require.Greater(t, len(chunks), 1)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 40, "chunk %d too long: %q", i, chunk)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunkerOverlap(t *testing.T) {
	c := runeChunker(t, 12, 4)
	chunks := c.SplitText("aa bb cc dd ee ff gg hh")

	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		first := strings.Fields(chunks[i])[0]
		assert.Equal(t, prevWords[len(prevWords)-1], first, "chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestChunkerPrefersParagraphs(t *testing.T) {
	c := runeChunker(t, 30, 0)
	chunks := c.SplitText("첫 번째 문단입니다.\n\n두 번째 문단입니다.\n\n세 번째 문단입니다.")
	assert.Equal(t, []string{"첫 번째 문단입니다.\n\n두 번째 문단입니다.", "세 번째 문단입니다."}, chunks)
}

func TestChunkerSplitsUnbrokenText(t *testing.T) {
	c := runeChunker(t, 10, 2)
	chunks := c.SplitText(strings.Repeat("가", 25))
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk))
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk), 10)
	}
}

func TestChunkerBlankInput(t *testing.T) {
	c := runeChunker(t, 10, 2)
	assert.Nil(t, c.SplitText(""))
	assert.Nil(t, c.SplitText(" \n\n "))
}

func TestChunkerSplitDocuments(t *testing.T) {
	c := runeChunker(t, 20, 0)
	docs := []Document{
		{Content: "alpha beta gamma delta epsilon zeta", Metadata: map[string]string{"source": "a.pdf", "page": "4"}},
		{Content: "   "},
		{Content: "short", Metadata: map[string]string{"source": "b"}},
	}

	chunks := c.Split(docs)
	require.GreaterOrEqual(t, len(chunks), 3)
	ids := map[string]bool{}
	for _, ch := range chunks {
		assert.NotEmpty(t, ch.ID)
		assert.False(t, ids[ch.ID], "duplicate id")
		ids[ch.ID] = true
	}
	assert.Equal(t, "a.pdf", chunks[0].Metadata["source"])
	assert.Equal(t, "4", chunks[0].Metadata["page"])
	assert.Equal(t, "0", chunks[0].Metadata["chunk"])
	assert.Equal(t, "1", chunks[1].Metadata["chunk"])

	last := chunks[len(chunks)-1]
	assert.Equal(t, "short", last.Content)
	assert.Equal(t, "b", last.Metadata["source"])
	assert.Equal(t, "0", last.Metadata["chunk"])

	// Source metadata is copied, not shared.
	chunks[0].Metadata["source"] = "changed"
	assert.Equal(t, "a.pdf", docs[0].Metadata["source"])
}

func TestNewChunkerValidation(t *testing.T) {
	_, err := NewChunker(ChunkerConfig{ChunkSize: 10, ChunkOverlap: 10, Length: utf8.RuneCountInString})
	assert.Error(t, err)

	c, err := NewChunker(ChunkerConfig{Length: utf8.RuneCountInString})
	require.NoError(t, err)
	assert.Equal(t, 1000, c.size)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 5, estimateTokens("안녕하세요 반갑습니다"))
	assert.Equal(t, 4, estimateTokens("a b c d"))
}
