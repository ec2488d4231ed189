package detect

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsflow/elsflow/internal/models"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestChunkBlocksEmptyInput(t *testing.T) {
	assert.Nil(t, ChunkBlocks(nil, DefaultChunkTokens, DefaultOverlapTokens))
	assert.Nil(t, ChunkBlocks([]models.TextBlock{{Text: "", PageNumber: 1}}, DefaultChunkTokens, DefaultOverlapTokens))
}

func TestChunkBlocksSmallInputSingleChunk(t *testing.T) {
	blocks := []models.TextBlock{
		{Text: "ATL Approaches to Learning", PageNumber: 1},
		{Text: "1.1 Shows curiosity", PageNumber: 2},
	}

	chunks := ChunkBlocks(blocks, DefaultChunkTokens, DefaultOverlapTokens)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].StartPage)
	assert.Contains(t, chunks[0].Text, "[page 1]")
	assert.Contains(t, chunks[0].Text, "[page 2]")
	assert.Contains(t, chunks[0].Text, "Shows curiosity")
}

func TestChunkBlocksSplitsAtBudget(t *testing.T) {
	// 100-token chunks, 10-token overlap: two 300-char blocks cannot share
	// a 400-char window.
	blocks := []models.TextBlock{
		{Text: strings.Repeat("a", 300), PageNumber: 1},
		{Text: strings.Repeat("b", 300), PageNumber: 2},
	}

	chunks := ChunkBlocks(blocks, 100, 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartPage)
	assert.Equal(t, 2, chunks[1].StartPage)

	// The second chunk starts with the tail of the first, so an element
	// straddling the boundary appears whole in at least one window.
	assert.Contains(t, chunks[1].Text, "a")
	assert.Contains(t, chunks[1].Text, strings.Repeat("b", 300))
}

func TestChunkBlocksOversizedBlockIsCut(t *testing.T) {
	blocks := []models.TextBlock{
		{Text: strings.Repeat("x", 3000), PageNumber: 5},
	}

	chunks := ChunkBlocks(blocks, 100, 10) // 400-char windows, 40-char overlap
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, 5, c.StartPage)
		// Window plus carried overlap plus the joining blank line.
		assert.LessOrEqual(t, len(c.Text), 400+40+2)
	}
}

func TestChunkBlocksCutsOnRuneBoundaries(t *testing.T) {
	// Two-byte runes ensure the byte budget lands mid-rune somewhere; every
	// produced window must still be valid UTF-8.
	blocks := []models.TextBlock{
		{Text: strings.Repeat("é", 500), PageNumber: 1},
		{Text: strings.Repeat("ü", 500), PageNumber: 2},
	}

	chunks := ChunkBlocks(blocks, 25, 5) // 100-byte windows, 20-byte overlap
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.True(t, utf8.ValidString(c.Text), "chunk %d is not valid UTF-8: %q", i, c.Text)
	}
}

func TestChunkBlocksDefaultsOnBadParameters(t *testing.T) {
	blocks := []models.TextBlock{{Text: "short", PageNumber: 1}}

	chunks := ChunkBlocks(blocks, 0, -1)
	require.Len(t, chunks, 1)
	chunks = ChunkBlocks(blocks, 10, 10)
	require.Len(t, chunks, 1)
}
