package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/parser"
	"github.com/elsflow/elsflow/internal/registry"
	"github.com/elsflow/elsflow/internal/validator"
)

// ParsingStage collapses detected elements into normalized standards. It is
// a pure transformation over the detection artifact; its only I/O is the
// artifact handoff.
type ParsingStage struct{}

func (ParsingStage) Name() string { return StageParsing }

func (ParsingStage) Run(ctx context.Context, sc *StageContext) (StageOutput, error) {
	var detection models.DetectionArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &detection); err != nil {
		return StageOutput{}, fmt.Errorf("failed to load detection artifact: %w", err)
	}

	result, err := parser.Parse(detection.Elements, sc.Jurisdiction)
	if err != nil {
		// Zero parseable indicators is a stage failure, not an empty
		// success.
		return StageOutput{}, fmt.Errorf("hierarchy parsing failed: %w", err)
	}

	slog.Info("Hierarchy parsing complete.",
		"runId", sc.RunID,
		"standards", len(result.Standards),
		"orphaned", len(result.Orphaned),
		"excluded", len(result.Excluded))

	out := models.ParsingArtifact{
		Indicators:      result.Standards,
		TotalIndicators: len(result.Standards),
		Orphaned:        result.Orphaned,
		Excluded:        result.Excluded,
	}
	key := artifact.IntermediateKey(sc.Jurisdiction.Key(), StageParsing, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return StageOutput{}, fmt.Errorf("failed to save parsing artifact: %w", err)
	}

	counts := sc.Counts
	counts.Indicators = out.TotalIndicators
	return StageOutput{OutputRef: key, Counts: counts}, nil
}

// ValidationStage validates each parsed standard and persists the accepted
// canonical records. Rejected records are reported in the validation
// artifact with their complete violation lists; only infrastructural
// failures abort the stage.
type ValidationStage struct {
	Uniqueness registry.Uniqueness
}

func (ValidationStage) Name() string { return StageValidation }

func (s ValidationStage) Run(ctx context.Context, sc *StageContext) (StageOutput, error) {
	var parsing models.ParsingArtifact
	if err := sc.Artifacts.Load(ctx, sc.InputRef, &parsing); err != nil {
		return StageOutput{}, fmt.Errorf("failed to load parsing artifact: %w", err)
	}

	v := validator.New(sc.Artifacts, s.Uniqueness, sc.RunID)
	out := models.ValidationArtifact{}

	for _, std := range parsing.Indicators {
		rec := validator.Serialize(std, sc.DocMeta, nil)
		key, result, err := v.Accept(ctx, rec)
		if err != nil {
			return StageOutput{}, fmt.Errorf("validation aborted at %s: %w", std.StandardID, err)
		}
		if !result.IsValid {
			out.ValidationErrors = append(out.ValidationErrors, models.RecordError{
				StandardID: std.StandardID,
				SourcePage: std.SourcePage,
				Errors:     result.Errors,
			})
			continue
		}
		out.ValidatedRecords = append(out.ValidatedRecords, key)
	}
	out.TotalValidated = len(out.ValidatedRecords)

	slog.Info("Validation complete.",
		"runId", sc.RunID,
		"total", len(parsing.Indicators),
		"validated", out.TotalValidated,
		"rejected", len(out.ValidationErrors))

	key := artifact.IntermediateKey(sc.Jurisdiction.Key(), StageValidation, sc.RunID)
	if err := sc.Artifacts.Save(ctx, key, out); err != nil {
		return StageOutput{}, fmt.Errorf("failed to save validation artifact: %w", err)
	}

	counts := sc.Counts
	counts.Validated = out.TotalValidated
	return StageOutput{OutputRef: key, Counts: counts}, nil
}
