package models

import "time"

// StageStatus is the outcome of one stage execution.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	// RunPartial is reachable only through an explicit stage re-run that
	// leaves the run with a mix of succeeded and failed stages.
	RunPartial RunStatus = "partial"
)

// StageResult records one stage execution. Results are keyed by stage name
// within a run: a re-run overwrites the entry in place instead of appending
// a new attempt.
type StageResult struct {
	StageName  string      `json:"stage_name" firestore:"stageName"`
	Status     StageStatus `json:"status" firestore:"status"`
	DurationMS int64       `json:"duration_ms" firestore:"durationMs"`
	OutputRef  string      `json:"output_artifact" firestore:"outputArtifact"`
	Error      string      `json:"error,omitempty" firestore:"error,omitempty"`
}

// Counts aggregates per-run totals. The orchestrator enforces
// Validated <= Indicators and Embedded <= Validated at completion time.
type Counts struct {
	Indicators      int `json:"indicators" firestore:"indicators"`
	Validated       int `json:"validated" firestore:"validated"`
	Embedded        int `json:"embedded" firestore:"embedded"`
	Recommendations int `json:"recommendations" firestore:"recommendations"`
}

// Run is the record of one pipeline execution. Owned exclusively by the
// orchestrator; everything else reads it through the run registry.
type Run struct {
	RunID        string        `json:"run_id" firestore:"runId"`
	DocumentRef  string        `json:"document_ref" firestore:"documentRef"`
	DocumentMeta DocumentMeta  `json:"document_meta" firestore:"documentMeta"`
	Jurisdiction Jurisdiction  `json:"jurisdiction" firestore:"jurisdiction"`
	Stages       []StageResult `json:"stages" firestore:"stages"`
	Counts       Counts        `json:"counts" firestore:"counts"`
	Status       RunStatus     `json:"status" firestore:"status"`
	StartedAt    time.Time     `json:"started_at" firestore:"startedAt"`
}

// Stage returns the recorded result for a stage name, if any.
func (r *Run) Stage(name string) (*StageResult, bool) {
	for i := range r.Stages {
		if r.Stages[i].StageName == name {
			return &r.Stages[i], true
		}
	}
	return nil, false
}

// SetStage records a stage result, overwriting any previous result for the
// same stage name.
func (r *Run) SetStage(res StageResult) {
	for i := range r.Stages {
		if r.Stages[i].StageName == res.StageName {
			r.Stages[i] = res
			return
		}
	}
	r.Stages = append(r.Stages, res)
}
