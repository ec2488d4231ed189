package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/elsflow/elsflow/internal/models"
)

// MemRegistry is the in-memory registry used by tests and local runs.
// records maps a registration key to the run that holds it.
type MemRegistry struct {
	mu      sync.Mutex
	records map[string]string
	runs    map[string]models.Run
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{
		records: make(map[string]string),
		runs:    make(map[string]models.Run),
	}
}

func (r *MemRegistry) Register(_ context.Context, jurisdictionKey, standardID, runID string) error {
	key := jurisdictionKey + ":" + standardID
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, exists := r.records[key]; exists && owner != runID {
		return fmt.Errorf("%s in %s: %w", standardID, jurisdictionKey, ErrDuplicate)
	}
	r.records[key] = runID
	return nil
}

func (r *MemRegistry) SaveRun(_ context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	cp.Stages = append([]models.StageResult(nil), run.Stages...)
	r.runs[run.RunID] = cp
	return nil
}

func (r *MemRegistry) GetRun(_ context.Context, runID string) (*models.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	cp := run
	cp.Stages = append([]models.StageResult(nil), run.Stages...)
	return &cp, nil
}
