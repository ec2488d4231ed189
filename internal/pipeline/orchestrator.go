// Package pipeline drives the normalization workflow as a stage state
// machine: a fixed stage sequence with artifact handoff, halt-on-failure,
// and independent re-execution of any single stage.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/registry"
)

// ErrCountInvariant reports that a completed run violates
// validated <= indicators or embedded <= validated. Treated as a fatal
// inconsistency, never silently accepted.
var ErrCountInvariant = errors.New("run count invariant violated")

// ErrUnknownStage reports a stage name outside the fixed sequence.
var ErrUnknownStage = errors.New("unknown stage name")

// DefaultStageTimeout bounds a single stage execution, external service
// calls included.
const DefaultStageTimeout = 15 * time.Minute

// Orchestrator owns pipeline runs. It is the only component that mutates a
// Run; stages see a read-only context and return their output.
type Orchestrator struct {
	stages       map[string]Stage
	artifacts    artifact.Store
	runs         registry.Runs
	stageTimeout time.Duration
}

// New builds an orchestrator over the given stage implementations. Every
// stage in Sequence must be provided exactly once.
func New(artifacts artifact.Store, runs registry.Runs, stages ...Stage) (*Orchestrator, error) {
	byName := make(map[string]Stage, len(stages))
	for _, s := range stages {
		if _, dup := byName[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate stage %q", s.Name())
		}
		byName[s.Name()] = s
	}
	for _, name := range Sequence {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("missing stage %q", name)
		}
	}
	if len(byName) != len(Sequence) {
		return nil, fmt.Errorf("unexpected extra stages: got %d, want %d", len(byName), len(Sequence))
	}
	return &Orchestrator{
		stages:       byName,
		artifacts:    artifacts,
		runs:         runs,
		stageTimeout: DefaultStageTimeout,
	}, nil
}

// SetStageTimeout overrides the per-stage timeout.
func (o *Orchestrator) SetStageTimeout(d time.Duration) { o.stageTimeout = d }

// RunRequest starts a new pipeline run.
type RunRequest struct {
	DocumentRef  string
	Jurisdiction models.Jurisdiction
	DocMeta      models.DocumentMeta
}

// NewRunID generates a run identifier. The UUID suffix keeps concurrent
// runs for the same jurisdiction distinct.
func NewRunID(j models.Jurisdiction) string {
	return fmt.Sprintf("pipeline-%s-%s", j.Key(), uuid.NewString()[:8])
}

// Execute runs the full stage sequence for a document. On the first stage
// failure the run halts: no later stage executes, and every stage result
// already recorded stays available for inspection. The returned Run is
// always persisted, whatever its final status.
func (o *Orchestrator) Execute(ctx context.Context, req RunRequest) (*models.Run, error) {
	if err := req.Jurisdiction.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run request: %w", err)
	}

	run := &models.Run{
		RunID:        NewRunID(req.Jurisdiction),
		DocumentRef:  req.DocumentRef,
		DocumentMeta: req.DocMeta,
		Jurisdiction: req.Jurisdiction,
		Status:       models.RunRunning,
		StartedAt:    time.Now().UTC(),
	}
	logCtx := slog.With("runId", run.RunID, "jurisdiction", req.Jurisdiction.Key())
	logCtx.Info("Starting pipeline run.", "documentRef", req.DocumentRef)

	if err := o.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	inputRef := ""
	for _, name := range Sequence {
		res, out := o.executeStage(ctx, run, o.stages[name], inputRef)
		run.SetStage(res)

		if res.Status == models.StageFailure {
			run.Status = models.RunFailed
			o.persistRun(ctx, run, logCtx)
			logCtx.Error("Pipeline run halted.", "stage", name, "error", res.Error)
			return run, fmt.Errorf("stage %s failed: %s", name, res.Error)
		}

		run.Counts = out.Counts
		inputRef = res.OutputRef
		o.persistRun(ctx, run, logCtx)
	}

	if err := checkCounts(run.Counts); err != nil {
		run.Status = models.RunFailed
		o.persistRun(ctx, run, logCtx)
		logCtx.Error("Pipeline run completed with inconsistent counts.", "error", err)
		return run, err
	}

	run.Status = models.RunCompleted
	o.persistRun(ctx, run, logCtx)
	logCtx.Info("Pipeline run completed.",
		"indicators", run.Counts.Indicators,
		"validated", run.Counts.Validated,
		"embedded", run.Counts.Embedded,
		"recommendations", run.Counts.Recommendations)
	return run, nil
}

// RerunStage re-executes exactly one stage of an existing run. The
// preceding stage's artifact must still be loadable; if it is not, the call
// fails fast and the run record is left untouched. The stage's recorded
// result is overwritten in place and downstream stages are not re-triggered.
func (o *Orchestrator) RerunStage(ctx context.Context, runID, stageName string) (*models.Run, error) {
	idx := stageIndex(stageName)
	if idx < 0 {
		return nil, fmt.Errorf("%q: %w", stageName, ErrUnknownStage)
	}

	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	logCtx := slog.With("runId", runID, "stage", stageName)

	inputRef := ""
	if idx > 0 {
		prevName := Sequence[idx-1]
		prev, ok := run.Stage(prevName)
		if !ok {
			return nil, fmt.Errorf("cannot re-run %s: preceding stage %s has no recorded result", stageName, prevName)
		}
		var probe json.RawMessage
		if err := o.artifacts.Load(ctx, prev.OutputRef, &probe); err != nil {
			return nil, fmt.Errorf("cannot re-run %s: preceding artifact %s: %w", stageName, prev.OutputRef, err)
		}
		inputRef = prev.OutputRef
	} else if run.DocumentRef == "" {
		return nil, fmt.Errorf("cannot re-run %s: run has no recorded document reference", stageName)
	}

	logCtx.Info("Re-running stage.", "inputRef", inputRef)
	res, out := o.executeStage(ctx, run, o.stages[stageName], inputRef)
	run.SetStage(res)
	if res.Status == models.StageSuccess {
		run.Counts = out.Counts
	}
	run.Status = recomputeStatus(run)

	if err := o.runs.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run after re-run: %w", err)
	}
	if res.Status == models.StageFailure {
		return run, fmt.Errorf("stage %s failed on re-run: %s", stageName, res.Error)
	}
	return run, nil
}

// GetRun returns the current run record.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return o.runs.GetRun(ctx, runID)
}

func (o *Orchestrator) executeStage(ctx context.Context, run *models.Run, stage Stage, inputRef string) (models.StageResult, StageOutput) {
	sc := &StageContext{
		RunID:        run.RunID,
		Jurisdiction: run.Jurisdiction,
		DocumentRef:  run.DocumentRef,
		InputRef:     inputRef,
		Counts:       run.Counts,
		Artifacts:    o.artifacts,
		DocMeta:      run.DocumentMeta,
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	start := time.Now()
	out, err := stage.Run(stageCtx, sc)
	duration := time.Since(start).Milliseconds()

	res := models.StageResult{
		StageName:  stage.Name(),
		DurationMS: duration,
		OutputRef:  out.OutputRef,
	}
	if err != nil {
		res.Status = models.StageFailure
		res.Error = err.Error()
		return res, out
	}
	res.Status = models.StageSuccess
	return res, out
}

// persistRun saves the run record, logging rather than failing the run when
// the registry write itself has trouble: the in-memory aggregate remains
// authoritative for the caller.
func (o *Orchestrator) persistRun(ctx context.Context, run *models.Run, logCtx *slog.Logger) {
	if err := o.runs.SaveRun(ctx, run); err != nil {
		logCtx.Error("Failed to persist run record.", "error", err)
	}
}

func checkCounts(c models.Counts) error {
	if c.Validated > c.Indicators {
		return fmt.Errorf("total_validated (%d) exceeds total_indicators (%d): %w", c.Validated, c.Indicators, ErrCountInvariant)
	}
	if c.Embedded > c.Validated {
		return fmt.Errorf("total_embedded (%d) exceeds total_validated (%d): %w", c.Embedded, c.Validated, ErrCountInvariant)
	}
	return nil
}

func stageIndex(name string) int {
	for i, n := range Sequence {
		if n == name {
			return i
		}
	}
	return -1
}

// recomputeStatus derives the run status from its recorded stage results
// after a re-run. A mix of failed and succeeded stages is the one path into
// the partial status.
func recomputeStatus(run *models.Run) models.RunStatus {
	var failures, successes int
	for _, s := range run.Stages {
		switch s.Status {
		case models.StageFailure:
			failures++
		case models.StageSuccess:
			successes++
		}
	}
	switch {
	case failures > 0 && successes > 0:
		return models.RunPartial
	case failures > 0:
		return models.RunFailed
	case successes == len(Sequence):
		if checkCounts(run.Counts) != nil {
			return models.RunFailed
		}
		return models.RunCompleted
	default:
		return models.RunRunning
	}
}
