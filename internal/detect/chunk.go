package detect

import (
	"fmt"
	"unicode/utf8"

	"github.com/elsflow/elsflow/internal/models"
)

// Chunking defaults. Token counts are estimated at four characters per
// token, which is close enough for sizing prompts without a tokenizer
// round-trip.
const (
	DefaultChunkTokens   = 2000
	DefaultOverlapTokens = 200
	charsPerToken        = 4
)

// Chunk is one window of extracted text handed to the detection model.
// StartPage is the page of the first block contributing to the window.
type Chunk struct {
	Text      string
	StartPage int
}

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// ChunkBlocks windows the extracted blocks into chunks of at most
// chunkTokens estimated tokens, carrying overlapTokens of trailing text
// into the next chunk so elements straddling a window boundary are seen
// whole at least once. Splits prefer block boundaries; a single oversized
// block is cut mid-text.
func ChunkBlocks(blocks []models.TextBlock, chunkTokens, overlapTokens int) []Chunk {
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	if overlapTokens < 0 || overlapTokens >= chunkTokens {
		overlapTokens = DefaultOverlapTokens
	}
	chunkChars := chunkTokens * charsPerToken
	overlapChars := overlapTokens * charsPerToken

	type segment struct {
		text string
		page int
	}
	var segments []segment
	for _, b := range blocks {
		if b.Text == "" {
			continue
		}
		text := fmt.Sprintf("[page %d]\n%s", b.PageNumber, b.Text)
		for len(text) > chunkChars {
			cut := runeBoundaryBefore(text, chunkChars)
			segments = append(segments, segment{text: text[:cut], page: b.PageNumber})
			next := runeBoundaryBefore(text, cut-overlapChars)
			if next < 1 {
				next = cut
			}
			text = text[next:]
		}
		segments = append(segments, segment{text: text, page: b.PageNumber})
	}
	if len(segments) == 0 {
		return nil
	}

	var chunks []Chunk
	cur := Chunk{StartPage: segments[0].page}
	for _, seg := range segments {
		candidate := cur.Text
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += seg.text

		if cur.Text != "" && len(candidate) > chunkChars {
			chunks = append(chunks, cur)
			cur = Chunk{Text: overlapTail(cur.Text, overlapChars), StartPage: seg.page}
			if cur.Text != "" {
				cur.Text += "\n\n"
			}
			cur.Text += seg.text
			continue
		}
		cur.Text = candidate
	}
	chunks = append(chunks, cur)
	return chunks
}

func overlapTail(text string, overlapChars int) string {
	if overlapChars <= 0 || len(text) <= overlapChars {
		return text
	}
	cut := len(text) - overlapChars
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return text[cut:]
}

// runeBoundaryBefore returns the largest index <= i that starts a rune, so
// byte-budget cuts never split a multi-byte character.
func runeBoundaryBefore(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	if i < 0 {
		return 0
	}
	return i
}
