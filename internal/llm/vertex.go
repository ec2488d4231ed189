// Package llm holds the pre-configured Vertex AI models the pipeline's
// external stages call: page text extraction, structure detection,
// recommendation generation, and embedding computation.
package llm

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Extraction model prompts ---
const ExtractionSystemPrompt = "You are a document parser. Your task is to parse the content of a single PDF page and transcribe it into plain structured text. Accuracy, detail, and information preservation are of utmost importance."
const ExtractionUserPrompt = `You will be provided with a single page of a PDF document.

Transcribe every piece of text content on the page, preserving reading order:

Text: transcribe paragraphs as plain text.
Lists: keep one item per line, preserving the item's code or numbering exactly as printed (e.g. "ATL", "1.2", "PD.1.a").
Tables: transcribe row by row, one cell group per line.
Headers and footers: ignore page numbers, logos, and publishing boilerplate.

Preserve the exact codes, numbering, and wording of the source. Do not summarize, do not add commentary.`

// --- Detection model prompts ---
const DetectionSystemPrompt = "You are a specialist document analysis tool for early learning standards documents. Your task is to classify hierarchical structure elements (domains, strands, sub-strands, indicators) in extracted document text. You must output your response as a valid JSON array."
const DetectionUserPrompt = `Analyze the provided text extracted from an early learning standards document. Identify every hierarchical structure element.

Follow these rules precisely:
1. Classify each element as one of: "domain" (broad category), "strand" (grouping within a domain), "sub_strand" (grouping within a strand), "indicator" (lowest assessable unit).
2. Create a JSON object for each element with exactly these keys:
   - "level": one of the four values above.
   - "code": the element's printed code or numbering (e.g. "ATL", "1.2").
   - "title": the element's heading text.
   - "description": the element's descriptive text, empty string if none.
   - "confidence": your confidence in the classification, a number between 0 and 1.
   - "source_page": the page number the element appears on.
   - "source_text": the verbatim source text the element was classified from.
3. The final output MUST be a single, valid JSON array of these objects. Do not include any text before or after the JSON array.`

// DetectionRetryPrompt asks the model to correct an unparseable response.
// The previous output and the decode error are appended by the caller.
const DetectionRetryPrompt = `Your previous response could not be parsed as a JSON array of element objects. Return ONLY the corrected JSON array, with no surrounding text or code fences. The parse error and your previous response follow.`

// --- Recommendation model prompts ---
const RecommendationSystemPrompt = "You are an early childhood education specialist. Your task is to suggest concrete, age-appropriate activities that help a child progress toward a given learning indicator. You must output your response as a valid JSON array."
const RecommendationUserPrompt = `For the learning indicator provided, suggest one activity for a parent at home and one for a teacher in a classroom.

Each JSON object must have exactly two keys:
- "audience": "parent" or "teacher".
- "activity_description": two to four sentences describing the activity.

The final output MUST be a single, valid JSON array with exactly two objects.`

// EmbeddingModelName is recorded alongside every computed vector so stored
// embeddings stay comparable across model upgrades.
const EmbeddingModelName = "text-embedding-004"

// VertexClient holds all pre-configured models for the pipeline.
type VertexClient struct {
	ExtractionModel     *genai.GenerativeModel
	DetectionModel      *genai.GenerativeModel
	RecommendationModel *genai.GenerativeModel
	EmbeddingModel      *genai.EmbeddingModel
	baseClient          *genai.Client
}

// NewVertexClient creates a client holding all necessary models.
func NewVertexClient(ctx context.Context, projectID, region string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractionModel := baseClient.GenerativeModel("gemini-1.5-pro")
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractionSystemPrompt)},
	}

	detectionModel := baseClient.GenerativeModel("gemini-1.5-pro")
	detectionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(DetectionSystemPrompt)},
	}
	detectionModel.GenerationConfig = genai.GenerationConfig{
		// Force JSON output. Classification must be machine-parseable.
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	detectionModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	recommendationModel := baseClient.GenerativeModel("gemini-1.5-pro")
	recommendationModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(RecommendationSystemPrompt)},
	}
	recommendationModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
	}

	return &VertexClient{
		ExtractionModel:     extractionModel,
		DetectionModel:      detectionModel,
		RecommendationModel: recommendationModel,
		EmbeddingModel:      baseClient.EmbeddingModel(EmbeddingModelName),
		baseClient:          baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// ResponseText extracts and concatenates the text parts of a model
// response.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out += string(txt)
		}
	}
	return out
}
