// Package enrich implements the post-validation stages: embedding
// computation, activity recommendation generation, and persistence of the
// enriched records into Firestore.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/sync/errgroup"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/llm"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
)

const maxConcurrentCalls = 5

// EmbeddingStage computes one vector per validated canonical record.
type EmbeddingStage struct {
	LLM *llm.VertexClient
}

func (s *EmbeddingStage) Name() string { return pipeline.StageEmbedding }

func (s *EmbeddingStage) Run(ctx context.Context, sc *pipeline.StageContext) (pipeline.StageOutput, error) {
	var validation models.ValidationArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &validation); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to load validation artifact: %w", err)
	}

	var mu sync.Mutex
	embeddings := make([]models.EmbeddingRecord, 0, len(validation.ValidatedRecords))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentCalls)
	for _, recordKey := range validation.ValidatedRecords {
		recordKey := recordKey
		eg.Go(func() error {
			var rec models.CanonicalRecord
			if err := sc.Artifacts.Load(gctx, recordKey, &rec); err != nil {
				return fmt.Errorf("failed to load canonical record %s: %w", recordKey, err)
			}
			inputText := embeddingInput(rec)
			resp, err := s.LLM.EmbeddingModel.EmbedContent(gctx, genai.Text(inputText))
			if err != nil {
				return fmt.Errorf("failed to embed %s: %w", rec.Standard.StandardID, err)
			}
			if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
				return fmt.Errorf("empty embedding for %s", rec.Standard.StandardID)
			}
			mu.Lock()
			embeddings = append(embeddings, models.EmbeddingRecord{
				StandardID: rec.Standard.StandardID,
				RecordKey:  recordKey,
				Model:      llm.EmbeddingModelName,
				InputText:  inputText,
				Vector:     resp.Embedding.Values,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("embedding computation failed: %w", err)
	}

	slog.Info("Embedding computation complete.", "runId", sc.RunID, "embedded", len(embeddings))
	out := models.EmbeddingArtifact{Embeddings: embeddings, TotalEmbedded: len(embeddings)}
	key := artifact.IntermediateKey(sc.Jurisdiction.Key(), pipeline.StageEmbedding, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to save embedding artifact: %w", err)
	}

	counts := sc.Counts
	counts.Embedded = out.TotalEmbedded
	return pipeline.StageOutput{OutputRef: key, Counts: counts}, nil
}

// embeddingInput builds the text a standard is embedded under: the domain
// context plus the indicator itself.
func embeddingInput(rec models.CanonicalRecord) string {
	parts := []string{rec.Standard.Domain.Name}
	if rec.Standard.Strand != nil {
		parts = append(parts, rec.Standard.Strand.Name)
	}
	if rec.Standard.SubStrand != nil {
		parts = append(parts, rec.Standard.SubStrand.Name)
	}
	parts = append(parts, rec.Standard.Indicator.Description)
	return strings.Join(parts, " > ")
}

// RecommendationStage generates one parent and one teacher activity per
// embedded standard. A malformed model response for a single standard is
// skipped with a warning rather than failing the whole stage.
type RecommendationStage struct {
	LLM *llm.VertexClient
}

// recommendationPayload is the JSON object shape expected from the model.
type recommendationPayload struct {
	Audience            string `json:"audience"`
	ActivityDescription string `json:"activity_description"`
}

func (s *RecommendationStage) Name() string { return pipeline.StageRecommendation }

func (s *RecommendationStage) Run(ctx context.Context, sc *pipeline.StageContext) (pipeline.StageOutput, error) {
	var embedding models.EmbeddingArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &embedding); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to load embedding artifact: %w", err)
	}

	var mu sync.Mutex
	var recommendations []models.Recommendation

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentCalls)
	for _, emb := range embedding.Embeddings {
		emb := emb
		eg.Go(func() error {
			recs, err := s.recommendFor(gctx, emb)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return nil
			}
			mu.Lock()
			recommendations = append(recommendations, recs...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("recommendation generation failed: %w", err)
	}

	slog.Info("Recommendation generation complete.",
		"runId", sc.RunID, "standards", len(embedding.Embeddings), "recommendations", len(recommendations))
	out := models.RecommendationArtifact{
		Recommendations:      recommendations,
		TotalRecommendations: len(recommendations),
	}
	key := artifact.IntermediateKey(sc.Jurisdiction.Key(), pipeline.StageRecommendation, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to save recommendation artifact: %w", err)
	}

	counts := sc.Counts
	counts.Recommendations = out.TotalRecommendations
	return pipeline.StageOutput{OutputRef: key, Counts: counts}, nil
}

func (s *RecommendationStage) recommendFor(ctx context.Context, emb models.EmbeddingRecord) ([]models.Recommendation, error) {
	parts := []genai.Part{
		genai.Text(llm.RecommendationUserPrompt),
		genai.Text("\n\nLearning indicator:\n" + emb.InputText),
	}
	resp, err := s.LLM.RecommendationModel.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recommendations for %s: %w", emb.StandardID, err)
	}

	raw := strings.TrimSpace(llm.ResponseText(resp))
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload []recommendationPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		slog.Warn("Could not parse recommendation response, skipping standard.",
			"standardId", emb.StandardID, "error", err)
		return nil, nil
	}

	recs := make([]models.Recommendation, 0, len(payload))
	for _, p := range payload {
		if p.Audience != "parent" && p.Audience != "teacher" {
			slog.Warn("Recommendation has unknown audience, skipping.",
				"standardId", emb.StandardID, "audience", p.Audience)
			continue
		}
		recs = append(recs, models.Recommendation{
			StandardID:          emb.StandardID,
			Audience:            p.Audience,
			ActivityDescription: p.ActivityDescription,
		})
	}
	return recs, nil
}

// PersistenceStage writes the enriched run output into Firestore: the
// canonical standards, their vectors, and the generated activities.
type PersistenceStage struct {
	Client                    *firestore.Client
	StandardsCollection       string
	EmbeddingsCollection      string
	RecommendationsCollection string
}

func (s *PersistenceStage) Name() string { return pipeline.StagePersistence }

func (s *PersistenceStage) Run(ctx context.Context, sc *pipeline.StageContext) (pipeline.StageOutput, error) {
	jk := sc.Jurisdiction.Key()

	var recommendation models.RecommendationArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &recommendation); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to load recommendation artifact: %w", err)
	}
	var embedding models.EmbeddingArtifact
	embKey := artifact.IntermediateKey(jk, pipeline.StageEmbedding, sc.RunID)
	if err := sc.Artifacts.Load(ctx, embKey, &embedding); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to load embedding artifact: %w", err)
	}

	out := models.PersistenceArtifact{}
	for _, emb := range embedding.Embeddings {
		var rec models.CanonicalRecord
		if err := sc.Artifacts.Load(ctx, emb.RecordKey, &rec); err != nil {
			return pipeline.StageOutput{}, fmt.Errorf("failed to load canonical record %s: %w", emb.RecordKey, err)
		}
		// The doc is also the uniqueness registration for this standard;
		// keep the ownership fields so a later validation re-run of this
		// run still recognizes its own registration.
		docID := jk + ":" + rec.Standard.StandardID
		if _, err := s.Client.Collection(s.StandardsCollection).Doc(docID).Set(ctx, map[string]any{
			"jurisdictionKey": jk,
			"standardId":      rec.Standard.StandardID,
			"runId":           sc.RunID,
			"record":          rec,
		}); err != nil {
			return pipeline.StageOutput{}, fmt.Errorf("failed to persist standard %s: %w", rec.Standard.StandardID, err)
		}
		out.PersistedRecords++

		if _, err := s.Client.Collection(s.EmbeddingsCollection).Doc(docID).Set(ctx, emb); err != nil {
			return pipeline.StageOutput{}, fmt.Errorf("failed to persist embedding %s: %w", emb.StandardID, err)
		}
		out.PersistedEmbeddings++
	}

	for _, r := range recommendation.Recommendations {
		docID := fmt.Sprintf("%s:%s:%s", jk, r.StandardID, r.Audience)
		if _, err := s.Client.Collection(s.RecommendationsCollection).Doc(docID).Set(ctx, r); err != nil {
			return pipeline.StageOutput{}, fmt.Errorf("failed to persist recommendation for %s: %w", r.StandardID, err)
		}
		out.PersistedRecommendation++
	}

	slog.Info("Persistence complete.",
		"runId", sc.RunID,
		"standards", out.PersistedRecords,
		"embeddings", out.PersistedEmbeddings,
		"recommendations", out.PersistedRecommendation)

	key := artifact.IntermediateKey(jk, pipeline.StagePersistence, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return pipeline.StageOutput{}, fmt.Errorf("failed to save persistence artifact: %w", err)
	}
	return pipeline.StageOutput{OutputRef: key, Counts: sc.Counts}, nil
}
