// Package artifact is the handoff contract between pipeline stages: every
// stage reads its input from and writes its output to an opaque key→JSON
// store, so stages are decoupled and any one of them can be re-run from the
// previous stage's recorded output.
package artifact

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Callers distinguish them with errors.Is; a missing upstream
// artifact (ErrNotFound) fails a re-run fast, while ErrTransient is the
// retryable class.
var (
	ErrNotFound     = errors.New("artifact not found")
	ErrAccessDenied = errors.New("artifact access denied")
	ErrTransient    = errors.New("transient artifact store error")
)

// Store saves and loads JSON artifacts by key.
type Store interface {
	// Save marshals v as JSON and writes it at key, replacing any
	// existing artifact.
	Save(ctx context.Context, key string, v any) error
	// Load reads the artifact at key and unmarshals it into into.
	Load(ctx context.Context, key string, into any) error
}

// IntermediateKey is the stable key for a stage's output artifact:
// {jurisdiction_key}/intermediate/{stage}/{run_id}. External stages depend
// on this layout; do not change it.
func IntermediateKey(jurisdictionKey, stage, runID string) string {
	return fmt.Sprintf("%s/intermediate/%s/%s", jurisdictionKey, stage, runID)
}

// RecordKey is the stable key for an accepted canonical record:
// {jurisdiction_key}/{standard_id}.
func RecordKey(jurisdictionKey, standardID string) string {
	return fmt.Sprintf("%s/%s", jurisdictionKey, standardID)
}
