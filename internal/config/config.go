package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/elsflow/elsflow/internal/models"
)

// GetEnv reads an environment variable or returns a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// Config holds the pipeline-wide settings read from the environment.
type Config struct {
	ProjectID           string
	VertexAIRegion      string
	RawBucket           string
	ProcessedBucket     string
	RunCollection       string
	RecordCollection    string
	EmbeddingCollection string
	ActivityCollection  string
	WorkflowID          string
	WorkflowLocation    string
	ConfidenceThreshold float64
}

// Load reads and validates the pipeline configuration. The confidence
// threshold governs only the needs_review derivation during detection; it
// is never consulted again downstream.
func Load() (*Config, error) {
	projectID := GetEnv("GOOGLE_CLOUD_PROJECT_ID", GetEnv("GCP_PROJECT", ""))
	if projectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT_ID environment variable must be set")
	}

	cfg := &Config{
		ProjectID:           projectID,
		VertexAIRegion:      GetEnv("VERTEX_AI_REGION", "us-central1"),
		RawBucket:           GetEnv("ELSFLOW_RAW_BUCKET", ""),
		ProcessedBucket:     GetEnv("ELSFLOW_PROCESSED_BUCKET", ""),
		RunCollection:       GetEnv("ELSFLOW_RUN_COLLECTION", "pipelineRuns"),
		RecordCollection:    GetEnv("ELSFLOW_RECORD_COLLECTION", "standards"),
		EmbeddingCollection: GetEnv("ELSFLOW_EMBEDDING_COLLECTION", "standardEmbeddings"),
		ActivityCollection:  GetEnv("ELSFLOW_ACTIVITY_COLLECTION", "activityRecommendations"),
		WorkflowID:          GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
	if cfg.ProcessedBucket == "" {
		return nil, fmt.Errorf("ELSFLOW_PROCESSED_BUCKET must be set")
	}

	threshold := GetEnv("ELSFLOW_CONFIDENCE_THRESHOLD", "0.7")
	v, err := strconv.ParseFloat(threshold, 64)
	if err != nil || v < 0 || v > 1 {
		return nil, fmt.Errorf("invalid ELSFLOW_CONFIDENCE_THRESHOLD %q", threshold)
	}
	cfg.ConfidenceThreshold = v

	return cfg, nil
}

// LoadDocumentMeta reads a document metadata manifest from a YAML file.
func LoadDocumentMeta(path string) (*models.DocumentMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	var meta models.DocumentMeta
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if meta.AgeBand == "" {
		meta.AgeBand = "3-4"
	}
	return &meta, nil
}
