package models

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Level is the canonical hierarchy level of a detected element. The four
// values are the only legal ones; UnmarshalJSON rejects anything else so a
// bad detector payload fails at decode time rather than deep inside the
// parser.
type Level string

const (
	LevelDomain    Level = "domain"
	LevelStrand    Level = "strand"
	LevelSubStrand Level = "sub_strand"
	LevelIndicator Level = "indicator"
)

// Rank orders the canonical levels from the top of the hierarchy (0) to the
// leaf (3).
func (l Level) Rank() int {
	switch l {
	case LevelDomain:
		return 0
	case LevelStrand:
		return 1
	case LevelSubStrand:
		return 2
	case LevelIndicator:
		return 3
	}
	return -1
}

func (l Level) Valid() bool {
	return l.Rank() >= 0
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := Level(s)
	if !v.Valid() {
		return fmt.Errorf("invalid hierarchy level: %q", s)
	}
	*l = v
	return nil
}

// DetectedElement is one structure element classified by the detection
// stage. Immutable once created; needs_review is derived from the
// configured confidence threshold at detection time.
type DetectedElement struct {
	Level       Level   `json:"level"`
	Code        string  `json:"code"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	SourcePage  int     `json:"source_page"`
	SourceText  string  `json:"source_text"`
	NeedsReview bool    `json:"needs_review"`
}

// HierarchyLevel is a single node's payload at one canonical level.
type HierarchyLevel struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var countryCodeRe = regexp.MustCompile(`^[A-Z]{2}$`)

// Jurisdiction is the composite scoping key (country + state + version
// year) that bounds standard uniqueness and artifact key layout.
type Jurisdiction struct {
	Country string `json:"country" firestore:"country"`
	State   string `json:"state" firestore:"state"`
	Year    int    `json:"version_year" firestore:"versionYear"`
}

// Key renders the jurisdiction as its stable string form, e.g. "US-CA-2021".
func (j Jurisdiction) Key() string {
	return fmt.Sprintf("%s-%s-%d", j.Country, j.State, j.Year)
}

func (j Jurisdiction) Validate() error {
	if !countryCodeRe.MatchString(j.Country) {
		return fmt.Errorf("country must be a two-letter uppercase ISO 3166-1 alpha-2 code, got %q", j.Country)
	}
	if j.State == "" {
		return fmt.Errorf("state must not be empty")
	}
	if j.Year < 2000 || j.Year > 2100 {
		return fmt.Errorf("version_year out of range: %d", j.Year)
	}
	return nil
}

// NormalizedStandard is one fully normalized standard: a single indicator
// with its resolved ancestry. Domain and Indicator are always present;
// Strand and SubStrand only when the source hierarchy depth warrants them.
// Never mutated after creation; corrections replace the record.
type NormalizedStandard struct {
	StandardID   string          `json:"standard_id"`
	Jurisdiction Jurisdiction    `json:"jurisdiction"`
	Domain       HierarchyLevel  `json:"domain"`
	Strand       *HierarchyLevel `json:"strand"`
	SubStrand    *HierarchyLevel `json:"sub_strand"`
	Indicator    HierarchyLevel  `json:"indicator"`
	SourcePage   int             `json:"source_page"`
	SourceText   string          `json:"source_text"`
}

// ErrorType classifies a validation violation.
type ErrorType string

const (
	ErrorMissingField ErrorType = "missing_field"
	ErrorInvalidType  ErrorType = "invalid_type"
	ErrorUniqueness   ErrorType = "uniqueness"
	ErrorFormat       ErrorType = "format"
)

// ValidationError is one violation found in a candidate record. FieldPath
// is dotted, e.g. "standard.strand.code".
type ValidationError struct {
	FieldPath string    `json:"field_path"`
	Message   string    `json:"message"`
	Type      ErrorType `json:"error_type"`
}

func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s (%s)", e.FieldPath, e.Message, e.Type)
}
