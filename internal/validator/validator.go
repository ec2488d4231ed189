// Package validator enforces the canonical record contract: schema,
// uniqueness within a jurisdiction, and lossless JSON round trips. Accepted
// records are persisted through the artifact store; that write is the
// validator's only side effect.
package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/registry"
)

// Validator validates and persists canonical records for one validation
// run. The batch map is the fast-path uniqueness check; the registry is the
// persisted authority and serializes concurrent runs on the same
// jurisdiction. Registrations are made under runID, so a re-run of the same
// run re-registers its own records without tripping the duplicate check.
type Validator struct {
	store artifact.Store
	uniq  registry.Uniqueness
	runID string
	batch map[string]struct{}
}

func New(store artifact.Store, uniq registry.Uniqueness, runID string) *Validator {
	return &Validator{
		store: store,
		uniq:  uniq,
		runID: runID,
		batch: make(map[string]struct{}),
	}
}

// Accept validates one canonical record and, when clean, persists it at
// {jurisdiction_key}/{standard_id} and registers its ID. Data-quality
// problems come back in the ValidationResult; only infrastructural failures
// (store or registry I/O) return a non-nil error.
func (v *Validator) Accept(ctx context.Context, rec models.CanonicalRecord) (string, ValidationResult, error) {
	decoded, err := decode(rec)
	if err != nil {
		return "", ValidationResult{}, fmt.Errorf("failed to decode record %s: %w", rec.Standard.StandardID, err)
	}

	result := ValidateRecord(decoded)
	result.Errors = append(result.Errors, roundTripErrors(rec)...)
	jurisdictionKey := fmt.Sprintf("%s-%s-%d", rec.Country, rec.State, rec.Document.VersionYear)

	if len(result.Errors) == 0 {
		batchKey := jurisdictionKey + ":" + rec.Standard.StandardID
		if _, seen := v.batch[batchKey]; seen {
			result.Errors = append(result.Errors, duplicateError(rec, jurisdictionKey))
		} else if err := v.uniq.Register(ctx, jurisdictionKey, rec.Standard.StandardID, v.runID); err != nil {
			if errors.Is(err, registry.ErrDuplicate) {
				result.Errors = append(result.Errors, duplicateError(rec, jurisdictionKey))
			} else {
				return "", ValidationResult{}, fmt.Errorf("uniqueness registry failed for %s: %w", rec.Standard.StandardID, err)
			}
		} else {
			v.batch[batchKey] = struct{}{}
		}
	}

	result.IsValid = len(result.Errors) == 0
	if !result.IsValid {
		slog.Warn("Record rejected.",
			"standardId", rec.Standard.StandardID,
			"jurisdiction", jurisdictionKey,
			"page", rec.Metadata.PageNumber,
			"violations", len(result.Errors))
		return "", result, nil
	}

	key := artifact.RecordKey(jurisdictionKey, rec.Standard.StandardID)
	if err := v.store.Save(ctx, key, rec); err != nil {
		return "", ValidationResult{}, fmt.Errorf("failed to persist record %s: %w", rec.Standard.StandardID, err)
	}
	return key, result, nil
}

// roundTripErrors verifies deserialize(serialize(x)) fidelity for the
// record. A mismatch means the record cannot be reconstructed losslessly
// and is rejected as a data-quality failure.
func roundTripErrors(rec models.CanonicalRecord) []models.ValidationError {
	std, err := Deserialize(rec)
	if err != nil {
		// Jurisdiction problems surface through schema errors; nothing
		// further to check here.
		return nil
	}
	again := Serialize(std, DocumentMetaOf(rec), &rec.Metadata)
	if !reflect.DeepEqual(again, rec) {
		return []models.ValidationError{{
			FieldPath: "standard",
			Message:   fmt.Sprintf("record %s does not survive a serialization round trip", rec.Standard.StandardID),
			Type:      models.ErrorFormat,
		}}
	}
	return nil
}

func duplicateError(rec models.CanonicalRecord, jurisdictionKey string) models.ValidationError {
	return models.ValidationError{
		FieldPath: "standard.standard_id",
		Message: fmt.Sprintf("Duplicate standard_id: %s within jurisdiction %s (page %d)",
			rec.Standard.StandardID, jurisdictionKey, rec.Metadata.PageNumber),
		Type: models.ErrorUniqueness,
	}
}

// decode flattens the typed record into the generic form the schema walk
// operates on.
func decode(rec models.CanonicalRecord) (map[string]any, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
