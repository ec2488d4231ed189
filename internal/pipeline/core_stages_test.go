package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/pipeline"
	"github.com/elsflow/elsflow/internal/registry"
)

func detectionFixture() models.DetectionArtifact {
	el := func(level models.Level, code, title string, page int) models.DetectedElement {
		return models.DetectedElement{
			Level: level, Code: code, Title: title,
			Confidence: 0.9, SourcePage: page, SourceText: title,
		}
	}
	flagged := el(models.LevelIndicator, "1.3", "Too blurry to classify", 3)
	flagged.NeedsReview = true
	return models.DetectionArtifact{
		Elements: []models.DetectedElement{
			el(models.LevelDomain, "ATL", "Approaches to Learning", 1),
			el(models.LevelStrand, "A", "Curiosity", 1),
			el(models.LevelIndicator, "1.1", "Shows curiosity", 2),
			el(models.LevelIndicator, "1.2", "Persists at tasks", 2),
			flagged,
		},
		ReviewCount: 1,
	}
}

func stageContext(store artifact.Store, inputRef string) *pipeline.StageContext {
	return &pipeline.StageContext{
		RunID:        "pipeline-US-CA-2021-test0001",
		Jurisdiction: testJurisdiction,
		InputRef:     inputRef,
		Artifacts:    store,
		DocMeta: models.DocumentMeta{
			Title:            "California Preschool Learning Foundations",
			SourceURL:        "https://example.org/foundations.pdf",
			AgeBand:          "3-4",
			PublishingAgency: "CDE",
		},
	}
}

func TestParsingStageProducesArtifactAndCounts(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()

	inputRef := artifact.IntermediateKey(testJurisdiction.Key(), pipeline.StageDetection, "pipeline-US-CA-2021-test0001")
	require.NoError(t, store.Save(ctx, inputRef, detectionFixture()))

	sc := stageContext(store, inputRef)
	out, err := pipeline.ParsingStage{}.Run(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Counts.Indicators)

	var parsed models.ParsingArtifact
	require.NoError(t, store.Load(ctx, out.OutputRef, &parsed))
	assert.Equal(t, 2, parsed.TotalIndicators)
	assert.Len(t, parsed.Excluded, 1)
	assert.Empty(t, parsed.Orphaned)
	assert.Equal(t, "US-CA-2021-ATL-1.1", parsed.Indicators[0].StandardID)
}

func TestParsingStageFailsOnMissingInput(t *testing.T) {
	sc := stageContext(artifact.NewMemStore(), "US-CA-2021/intermediate/detection/nope")
	_, err := pipeline.ParsingStage{}.Run(context.Background(), sc)
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestParsingStageFailsOnZeroIndicators(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()

	inputRef := artifact.IntermediateKey(testJurisdiction.Key(), pipeline.StageDetection, "run")
	onlyDomains := models.DetectionArtifact{Elements: []models.DetectedElement{
		{Level: models.LevelDomain, Code: "D", Title: "Domain", Confidence: 1, SourcePage: 1},
	}}
	require.NoError(t, store.Save(ctx, inputRef, onlyDomains))

	sc := stageContext(store, inputRef)
	_, err := pipeline.ParsingStage{}.Run(ctx, sc)
	assert.Error(t, err)
}

func TestValidationStageAcceptsAndRejects(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()
	runID := "pipeline-US-CA-2021-test0001"

	// Parse first, then corrupt one standard so validation has a rejection
	// to report.
	detKey := artifact.IntermediateKey(testJurisdiction.Key(), pipeline.StageDetection, runID)
	require.NoError(t, store.Save(ctx, detKey, detectionFixture()))
	parseOut, err := pipeline.ParsingStage{}.Run(ctx, stageContext(store, detKey))
	require.NoError(t, err)

	var parsed models.ParsingArtifact
	require.NoError(t, store.Load(ctx, parseOut.OutputRef, &parsed))
	parsed.Indicators[1].Indicator.Description = ""
	require.NoError(t, store.Save(ctx, parseOut.OutputRef, parsed))

	stage := pipeline.ValidationStage{Uniqueness: registry.NewMemRegistry()}
	out, err := stage.Run(ctx, stageContext(store, parseOut.OutputRef))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Counts.Validated)

	var validation models.ValidationArtifact
	require.NoError(t, store.Load(ctx, out.OutputRef, &validation))
	assert.Equal(t, 1, validation.TotalValidated)
	require.Len(t, validation.ValidatedRecords, 1)
	require.Len(t, validation.ValidationErrors, 1)
	assert.Equal(t, "US-CA-2021-ATL-1.2", validation.ValidationErrors[0].StandardID)

	// The accepted record is persisted at its canonical key; the rejected
	// one is not.
	var rec models.CanonicalRecord
	require.NoError(t, store.Load(ctx, validation.ValidatedRecords[0], &rec))
	assert.Equal(t, "US-CA-2021-ATL-1.1", rec.Standard.StandardID)
	assert.Error(t, store.Load(ctx, artifact.RecordKey("US-CA-2021", "US-CA-2021-ATL-1.2"), &rec))
}

// Re-running validation for the same run replays its own registrations:
// the second pass must accept exactly what the first did, not reject it as
// duplicates of itself.
func TestValidationStageRerunReproducesResult(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()
	runID := "pipeline-US-CA-2021-test0001"

	detKey := artifact.IntermediateKey(testJurisdiction.Key(), pipeline.StageDetection, runID)
	require.NoError(t, store.Save(ctx, detKey, detectionFixture()))
	parseOut, err := pipeline.ParsingStage{}.Run(ctx, stageContext(store, detKey))
	require.NoError(t, err)

	stage := pipeline.ValidationStage{Uniqueness: registry.NewMemRegistry()}
	first, err := stage.Run(ctx, stageContext(store, parseOut.OutputRef))
	require.NoError(t, err)
	require.Equal(t, 2, first.Counts.Validated)

	second, err := stage.Run(ctx, stageContext(store, parseOut.OutputRef))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Counts.Validated)

	var validation models.ValidationArtifact
	require.NoError(t, store.Load(ctx, second.OutputRef, &validation))
	assert.Equal(t, 2, validation.TotalValidated)
	assert.Empty(t, validation.ValidationErrors)
}

func TestValidationStageDuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()
	runID := "pipeline-US-CA-2021-test0002"

	dup := models.ParsingArtifact{
		Indicators: []models.NormalizedStandard{
			{
				StandardID:   "US-CA-2021-D-1.1",
				Jurisdiction: testJurisdiction,
				Domain:       models.HierarchyLevel{Code: "D", Name: "Domain"},
				Indicator:    models.HierarchyLevel{Code: "1.1", Description: "First"},
				SourcePage:   1,
				SourceText:   "1.1 First",
			},
			{
				StandardID:   "US-CA-2021-D-1.1",
				Jurisdiction: testJurisdiction,
				Domain:       models.HierarchyLevel{Code: "D", Name: "Domain"},
				Indicator:    models.HierarchyLevel{Code: "1.1", Description: "Second copy"},
				SourcePage:   2,
				SourceText:   "1.1 Second copy",
			},
		},
		TotalIndicators: 2,
	}
	inputRef := artifact.IntermediateKey(testJurisdiction.Key(), pipeline.StageParsing, runID)
	require.NoError(t, store.Save(ctx, inputRef, dup))

	stage := pipeline.ValidationStage{Uniqueness: registry.NewMemRegistry()}
	out, err := stage.Run(ctx, stageContext(store, inputRef))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Counts.Validated)

	var validation models.ValidationArtifact
	require.NoError(t, store.Load(ctx, out.OutputRef, &validation))
	require.Len(t, validation.ValidationErrors, 1)
	assert.Equal(t, models.ErrorUniqueness, validation.ValidationErrors[0].Errors[0].Type)
	assert.Equal(t, 2, validation.ValidationErrors[0].SourcePage)
}
