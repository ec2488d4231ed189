// Package registry is the persisted authority for pipeline run records and
// for standard-ID uniqueness within a jurisdiction.
package registry

import (
	"context"
	"errors"

	"github.com/elsflow/elsflow/internal/models"
)

var (
	// ErrDuplicate reports that a standard ID is already registered
	// within the jurisdiction.
	ErrDuplicate = errors.New("standard_id already registered")
	// ErrRunNotFound reports that no run record exists for a run ID.
	ErrRunNotFound = errors.New("pipeline run not found")
)

// Uniqueness registers accepted standard IDs. Register fails with
// ErrDuplicate when the (jurisdiction, standard_id) pair is held by another
// run; re-registration by the owning run succeeds, so a validation stage
// re-run reproduces its original result instead of colliding with itself.
// The store's insert constraint, not in-process locking, serializes
// concurrent runs targeting the same jurisdiction.
type Uniqueness interface {
	Register(ctx context.Context, jurisdictionKey, standardID, runID string) error
}

// Runs persists pipeline run records. The orchestrator owns the Run
// aggregate; the registry only stores and returns it.
type Runs interface {
	SaveRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
}
