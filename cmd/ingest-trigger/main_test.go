package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/validator"
)

func TestParseUploadPath(t *testing.T) {
	tests := []struct {
		name   string
		object string
		wantOK bool
	}{
		{"valid upload", "US-CA-2021/incoming/foundations.pdf", true},
		{"pipeline raw write ignored", "US-CA-2021/raw/foundations.pdf", false},
		{"intermediate write ignored", "US-CA-2021/intermediate/parsing/run-1", false},
		{"missing filename", "US-CA-2021/incoming/", false},
		{"bad jurisdiction key", "california/incoming/doc.pdf", false},
		{"non-numeric year", "US-CA-latest/incoming/doc.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, ok := parseUploadPath(tt.object)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, "US-CA-2021", j.Key())
			}
		})
	}
}

// Event-triggered runs have no operator manifest, so the defaulted metadata
// must itself satisfy the canonical record schema or every record of the
// run would be rejected for empty document fields.
func TestDefaultDocumentMetaSatisfiesSchema(t *testing.T) {
	j := models.Jurisdiction{Country: "US", State: "CA", Year: 2021}
	meta := defaultDocumentMeta(j, "gs://uploads/US-CA-2021/incoming/foundations.pdf")

	std := models.NormalizedStandard{
		StandardID:   "US-CA-2021-ATL-1.1",
		Jurisdiction: j,
		Domain:       models.HierarchyLevel{Code: "ATL", Name: "Approaches to Learning"},
		Indicator:    models.HierarchyLevel{Code: "1.1", Description: "Shows curiosity"},
		SourcePage:   1,
		SourceText:   "1.1 Shows curiosity",
	}
	rec := validator.Serialize(std, meta, nil)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	result := validator.ValidateRecord(decoded)
	assert.True(t, result.IsValid, "defaulted metadata rejected: %v", result.Errors)
	assert.Equal(t, "CA Early Learning Standards", rec.Document.Title)
	assert.Equal(t, "gs://uploads/US-CA-2021/incoming/foundations.pdf", rec.Document.SourceURL)
	assert.Equal(t, "3-4", rec.Document.AgeBand)
}
