package models

// Stage artifact envelopes. These are the interoperability contract
// between stages: each stage writes exactly one envelope at its
// intermediate key and the next stage reads it from there.

// IngestionArtifact is the ingestion stage output. RawObject is the
// object name of the uploaded source document inside the raw bucket.
type IngestionArtifact struct {
	RawObject   string `json:"raw_object"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

// TextBlock is one extracted text block in reading order.
type TextBlock struct {
	Text       string  `json:"text"`
	PageNumber int     `json:"page_number"`
	BlockType  string  `json:"block_type"`
	Confidence float64 `json:"confidence"`
}

// ExtractionArtifact is the extraction stage output.
type ExtractionArtifact struct {
	Blocks     []TextBlock `json:"blocks"`
	TotalPages int         `json:"total_pages"`
}

// DetectionArtifact is the detection stage output.
type DetectionArtifact struct {
	Elements    []DetectedElement `json:"elements"`
	ReviewCount int               `json:"review_count"`
}

// ParsingArtifact is the parsing stage output. Orphaned and Excluded are
// advisory reports; Indicators is what validation consumes.
type ParsingArtifact struct {
	Indicators      []NormalizedStandard `json:"indicators"`
	TotalIndicators int                  `json:"total_indicators"`
	Orphaned        []DetectedElement    `json:"orphaned_elements"`
	Excluded        []DetectedElement    `json:"excluded_elements"`
}

// RecordError ties a rejected record to its violations with enough
// context to trace it back to the raw document.
type RecordError struct {
	StandardID string            `json:"standard_id"`
	SourcePage int               `json:"source_page"`
	Errors     []ValidationError `json:"errors"`
}

// ValidationArtifact is the validation stage output. ValidatedRecords
// lists the canonical-record keys that were accepted and persisted.
type ValidationArtifact struct {
	ValidatedRecords []string      `json:"validated_records"`
	TotalValidated   int           `json:"total_validated"`
	ValidationErrors []RecordError `json:"validation_errors"`
}

// EmbeddingRecord pairs a validated standard with its computed vector.
type EmbeddingRecord struct {
	StandardID string    `json:"standard_id"`
	RecordKey  string    `json:"record_key"`
	Model      string    `json:"model"`
	InputText  string    `json:"input_text"`
	Vector     []float32 `json:"vector"`
}

// EmbeddingArtifact is the embedding stage output.
type EmbeddingArtifact struct {
	Embeddings    []EmbeddingRecord `json:"embeddings"`
	TotalEmbedded int               `json:"total_embedded"`
}

// Recommendation is one suggested activity for a standard.
type Recommendation struct {
	StandardID          string `json:"standard_id"`
	Audience            string `json:"audience"`
	ActivityDescription string `json:"activity_description"`
}

// RecommendationArtifact is the recommendation stage output.
type RecommendationArtifact struct {
	Recommendations      []Recommendation `json:"recommendations"`
	TotalRecommendations int              `json:"total_recommendations"`
}

// PersistenceArtifact is the persistence stage output.
type PersistenceArtifact struct {
	PersistedRecords        int `json:"persisted_records"`
	PersistedEmbeddings     int `json:"persisted_embeddings"`
	PersistedRecommendation int `json:"persisted_recommendations"`
}
