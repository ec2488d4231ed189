package validator

import (
	"fmt"
	"math"

	"github.com/elsflow/elsflow/internal/models"
)

// ValidationResult is the outcome of validating one candidate record.
// Errors always holds the complete list of violations; callers never have
// to re-validate to discover the next problem.
type ValidationResult struct {
	IsValid bool                     `json:"is_valid"`
	Errors  []models.ValidationError `json:"errors"`
}

// ValidateRecord checks a decoded candidate record against the canonical
// schema, collecting every violation with a dotted field path. It performs
// no I/O and never fails on data quality; infrastructural concerns live in
// the Validator.
func ValidateRecord(record map[string]any) ValidationResult {
	var errs []models.ValidationError
	add := func(path, msg string, t models.ErrorType) {
		errs = append(errs, models.ValidationError{FieldPath: path, Message: msg, Type: t})
	}

	for _, field := range []string{"country", "state", "document", "standard", "metadata"} {
		v, ok := record[field]
		if !ok {
			add(field, fmt.Sprintf("Missing required field: %s", field), models.ErrorMissingField)
			continue
		}
		if isEmpty(v) {
			add(field, fmt.Sprintf("Field cannot be empty: %s", field), models.ErrorInvalidType)
		}
	}

	if v, ok := record["country"]; ok {
		s, isStr := v.(string)
		switch {
		case !isStr || len(s) != 2:
			add("country", "country must be a two-letter ISO 3166-1 alpha-2 code", models.ErrorInvalidType)
		case !isUpperAlpha(s):
			add("country", "country must be uppercase letters only", models.ErrorFormat)
		}
	}

	if v, ok := record["state"]; ok {
		if s, isStr := v.(string); !isStr || s == "" {
			add("state", "state must be a non-empty string", models.ErrorInvalidType)
		}
	}

	if v, ok := record["document"]; ok {
		doc, isMap := v.(map[string]any)
		if !isMap {
			add("document", "document must be an object", models.ErrorInvalidType)
		} else {
			for _, field := range []string{"title", "version_year", "source_url", "age_band", "publishing_agency"} {
				path := "document." + field
				fv, present := doc[field]
				if !present {
					add(path, fmt.Sprintf("Missing required field: %s", path), models.ErrorMissingField)
					continue
				}
				if field == "version_year" {
					if !isInteger(fv) {
						add(path, fmt.Sprintf("%s must be an integer", path), models.ErrorInvalidType)
					}
					continue
				}
				if s, isStr := fv.(string); !isStr || s == "" {
					add(path, fmt.Sprintf("%s must be a non-empty string", path), models.ErrorInvalidType)
				}
			}
		}
	}

	if v, ok := record["standard"]; ok {
		std, isMap := v.(map[string]any)
		if !isMap {
			add("standard", "standard must be an object", models.ErrorInvalidType)
		} else {
			validateStandard(std, add)
		}
	}

	if v, ok := record["metadata"]; ok {
		if _, isMap := v.(map[string]any); !isMap {
			add("metadata", "metadata must be an object", models.ErrorInvalidType)
		}
	}

	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func validateStandard(std map[string]any, add func(string, string, models.ErrorType)) {
	if v, present := std["standard_id"]; !present {
		add("standard.standard_id", "Missing required field: standard.standard_id", models.ErrorMissingField)
	} else if s, isStr := v.(string); !isStr || s == "" {
		add("standard.standard_id", "standard.standard_id must be a non-empty string", models.ErrorInvalidType)
	}

	requireLevelObject(std, "domain", true, []string{"code", "name"}, add)
	requireLevelObject(std, "strand", false, []string{"code", "name"}, add)
	requireLevelObject(std, "sub_strand", false, []string{"code", "name"}, add)
	requireLevelObject(std, "indicator", true, []string{"code", "description"}, add)
}

// requireLevelObject validates a hierarchy level block. Optional blocks may
// be absent or null, but a present block must carry every field: partially
// populated levels are rejected.
func requireLevelObject(std map[string]any, name string, required bool, fields []string, add func(string, string, models.ErrorType)) {
	path := "standard." + name
	v, present := std[name]
	if !present || v == nil {
		if required {
			if !present {
				add(path, fmt.Sprintf("Missing required field: %s", path), models.ErrorMissingField)
			} else {
				add(path, fmt.Sprintf("%s must be an object", path), models.ErrorInvalidType)
			}
		}
		return
	}
	obj, isMap := v.(map[string]any)
	if !isMap {
		if required {
			add(path, fmt.Sprintf("%s must be an object", path), models.ErrorInvalidType)
		} else {
			add(path, fmt.Sprintf("%s must be an object or null", path), models.ErrorInvalidType)
		}
		return
	}
	for _, field := range fields {
		fieldPath := path + "." + field
		fv, fpresent := obj[field]
		if !fpresent {
			add(fieldPath, fmt.Sprintf("Missing required field: %s", fieldPath), models.ErrorMissingField)
			continue
		}
		if s, isStr := fv.(string); !isStr || s == "" {
			add(fieldPath, fmt.Sprintf("%s must be a non-empty string", fieldPath), models.ErrorInvalidType)
		}
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

// isInteger accepts Go ints and integral JSON numbers (which decode as
// float64).
func isInteger(v any) bool {
	switch t := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return t == math.Trunc(t)
	}
	return false
}
