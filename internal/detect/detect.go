// Package detect implements the detection stage: extracted text is windowed
// into overlapping chunks and each chunk is classified into hierarchical
// structure elements by the detection model.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/llm"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

// maxParseRetries bounds the corrective re-prompt loop for a chunk whose
// response cannot be decoded. After the last retry the chunk fails the
// stage.
const maxParseRetries = 2

// Stage classifies document structure elements.
type Stage struct {
	LLM *llm.VertexClient
	// ConfidenceThreshold marks elements below it as needs_review.
	ConfidenceThreshold float64
	ChunkTokens         int
	OverlapTokens       int
}

func (s *Stage) Name() string { return pipeline.StageDetection }

func (s *Stage) Run(ctx context.Context, sc *pipeline.StageContext) (pipeline.StageOutput, error) {
	var extraction models.ExtractionArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &extraction); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to load extraction artifact: %w", err)
	}

	chunks := ChunkBlocks(extraction.Blocks, s.ChunkTokens, s.OverlapTokens)
	if len(chunks) == 0 {
		return pipeline.StageOutput{}, fmt.Errorf("extraction artifact %s contains no text to classify", sc.InputRef)
	}
	logCtx := slog.With("runId", sc.RunID, "chunks", len(chunks))
	logCtx.Info("Starting structure detection.")

	// Chunks overlap, so the same element can come back twice. First
	// classification wins.
	seen := make(map[string]bool)
	var elements []models.DetectedElement
	reviewCount := 0

	for i, chunk := range chunks {
		detected, err := s.detectChunk(ctx, chunk)
		if err != nil {
			return pipeline.StageOutput{}, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		for _, el := range detected {
			dedupeKey := string(el.Level) + "|" + el.Code + "|" + el.Title
			if seen[dedupeKey] {
				continue
			}
			seen[dedupeKey] = true
			if el.SourcePage == 0 {
				el.SourcePage = chunk.StartPage
			}
			el.NeedsReview = el.Confidence < s.ConfidenceThreshold
			if el.NeedsReview {
				reviewCount++
			}
			elements = append(elements, el)
		}
	}

	if len(elements) == 0 {
		return pipeline.StageOutput{}, fmt.Errorf("detection produced no structure elements")
	}
	logCtx.Info("Structure detection complete.", "elements", len(elements), "needsReview", reviewCount)

	out := models.DetectionArtifact{Elements: elements, ReviewCount: reviewCount}
	key := artifact.IntermediateKey(sc.Jurisdiction.Key(), pipeline.StageDetection, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to save detection artifact: %w", err)
	}
	return pipeline.StageOutput{OutputRef: key, Counts: sc.Counts}, nil
}

// detectChunk classifies one chunk, re-prompting with the decode error when
// the model's JSON cannot be parsed.
func (s *Stage) detectChunk(ctx context.Context, chunk Chunk) ([]models.DetectedElement, error) {
	parts := []genai.Part{
		genai.Text(llm.DetectionUserPrompt),
		genai.Text("\n\nDocument text:\n" + chunk.Text),
	}

	var lastErr error
	for attempt := 0; attempt <= maxParseRetries; attempt++ {
		resp, err := s.LLM.DetectionModel.GenerateContent(ctx, parts...)
		if err != nil {
			return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
		}
		raw := extractJSONContent(llm.ResponseText(resp))
		if raw == "" {
			lastErr = fmt.Errorf("gemini returned an empty response instead of JSON")
		} else {
			var elements []models.DetectedElement
			if uerr := json.Unmarshal([]byte(raw), &elements); uerr != nil {
				lastErr = uerr
			} else {
				return elements, nil
			}
		}
		slog.Warn("Could not parse detection response, re-prompting.",
			"attempt", attempt+1, "maxRetries", maxParseRetries, "error", lastErr)
		parts = []genai.Part{
			genai.Text(llm.DetectionUserPrompt),
			genai.Text("\n\nDocument text:\n" + chunk.Text),
			genai.Text(fmt.Sprintf("\n\n%s\n\nParse error: %v\n\nPrevious response:\n%s", llm.DetectionRetryPrompt, lastErr, raw)),
		}
	}
	return nil, fmt.Errorf("failed to parse detection response after %d retries: %w", maxParseRetries, lastErr)
}

// extractJSONContent strips whitespace and stray code fences from a model
// response expected to be a JSON array.
func extractJSONContent(text string) string {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}
