package validator

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elsflow/elsflow/internal/artifact"
	"github.com/elsflow/elsflow/internal/models"
	"github.com/elsflow/elsflow/internal/registry"
)

var testDocMeta = models.DocumentMeta{
	Title:            "California Preschool Learning Foundations",
	SourceURL:        "https://example.org/foundations.pdf",
	AgeBand:          "3-4",
	PublishingAgency: "CDE",
}

func testStandard(indicatorCode string) models.NormalizedStandard {
	j := models.Jurisdiction{Country: "US", State: "CA", Year: 2021}
	return models.NormalizedStandard{
		StandardID:   "US-CA-2021-ATL-" + indicatorCode,
		Jurisdiction: j,
		Domain:       models.HierarchyLevel{Code: "ATL", Name: "Approaches to Learning"},
		Strand:       &models.HierarchyLevel{Code: "A", Name: "Curiosity"},
		Indicator:    models.HierarchyLevel{Code: indicatorCode, Description: "Persists at tasks"},
		SourcePage:   14,
		SourceText:   indicatorCode + " Persists at tasks",
	}
}

func TestSerializeEmitsExplicitNulls(t *testing.T) {
	std := testStandard("1.2")
	std.Strand = nil

	rec := Serialize(std, testDocMeta, nil)
	assert.Nil(t, rec.Standard.Strand)
	assert.Nil(t, rec.Standard.SubStrand)
	assert.Equal(t, "US", rec.Country)
	assert.Equal(t, 2021, rec.Document.VersionYear)
	assert.Equal(t, 14, rec.Metadata.PageNumber)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	std := testStandard("1.2")

	rec := Serialize(std, testDocMeta, nil)
	back, err := Deserialize(rec)
	require.NoError(t, err)

	if diff := cmp.Diff(std, back); diff != "" {
		t.Errorf("standard did not survive round trip (-want +got):\n%s", diff)
	}
}

func TestDeserializeRejectsInvalidJurisdiction(t *testing.T) {
	rec := Serialize(testStandard("1.2"), testDocMeta, nil)
	rec.Country = "usa"

	_, err := Deserialize(rec)
	assert.Error(t, err)
}

func TestAcceptPersistsValidRecord(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()
	v := New(store, registry.NewMemRegistry(), "run-a")

	rec := Serialize(testStandard("1.2"), testDocMeta, nil)
	key, result, err := v.Accept(ctx, rec)
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, "US-CA-2021/US-CA-2021-ATL-1.2", key)

	var stored models.CanonicalRecord
	require.NoError(t, store.Load(ctx, key, &stored))
	if diff := cmp.Diff(rec, stored); diff != "" {
		t.Errorf("stored record differs (-want +got):\n%s", diff)
	}
}

func TestAcceptRejectsSchemaViolationsWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()
	v := New(store, registry.NewMemRegistry(), "run-a")

	std := testStandard("1.2")
	std.Indicator.Description = ""
	rec := Serialize(std, testDocMeta, nil)

	key, result, err := v.Accept(ctx, rec)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Empty(t, key)
	assert.Empty(t, store.Keys())
}

func TestAcceptRejectsDuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	v := New(artifact.NewMemStore(), registry.NewMemRegistry(), "run-a")
	rec := Serialize(testStandard("1.2"), testDocMeta, nil)

	_, first, err := v.Accept(ctx, rec)
	require.NoError(t, err)
	require.True(t, first.IsValid)

	_, second, err := v.Accept(ctx, rec)
	require.NoError(t, err)
	assert.False(t, second.IsValid)
	require.Len(t, second.Errors, 1)
	assert.Equal(t, models.ErrorUniqueness, second.Errors[0].Type)
	assert.Equal(t, "standard.standard_id", second.Errors[0].FieldPath)
	assert.Contains(t, second.Errors[0].Message, "US-CA-2021-ATL-1.2")
}

// The registry is the persisted authority: a standard registered by an
// earlier run is a duplicate even when this batch has never seen it.
func TestAcceptRejectsDuplicateFromRegistry(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemRegistry()
	require.NoError(t, reg.Register(ctx, "US-CA-2021", "US-CA-2021-ATL-1.2", "run-a"))

	v := New(artifact.NewMemStore(), reg, "run-b")
	rec := Serialize(testStandard("1.2"), testDocMeta, nil)

	_, result, err := v.Accept(ctx, rec)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, models.ErrorUniqueness, result.Errors[0].Type)
}

// A re-run builds a fresh Validator for the same run: its earlier
// registrations must read as its own, not as duplicates, so the re-run
// reproduces the original acceptance.
func TestAcceptIdempotentAcrossRerunOfSameRun(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemStore()
	reg := registry.NewMemRegistry()
	rec := Serialize(testStandard("1.2"), testDocMeta, nil)

	_, first, err := New(store, reg, "run-a").Accept(ctx, rec)
	require.NoError(t, err)
	require.True(t, first.IsValid)

	key, second, err := New(store, reg, "run-a").Accept(ctx, rec)
	require.NoError(t, err)
	assert.True(t, second.IsValid)
	assert.Equal(t, "US-CA-2021/US-CA-2021-ATL-1.2", key)
}

func TestAcceptSameIDDifferentJurisdictionsAllowed(t *testing.T) {
	ctx := context.Background()
	v := New(artifact.NewMemStore(), registry.NewMemRegistry(), "run-a")

	first := Serialize(testStandard("1.2"), testDocMeta, nil)
	_, r1, err := v.Accept(ctx, first)
	require.NoError(t, err)
	assert.True(t, r1.IsValid)

	std := testStandard("1.2")
	std.Jurisdiction.State = "NY"
	second := Serialize(std, testDocMeta, nil)
	_, r2, err := v.Accept(ctx, second)
	require.NoError(t, err)
	assert.True(t, r2.IsValid)
}

func TestRoundTripErrorsCleanForSerializedRecords(t *testing.T) {
	rec := Serialize(testStandard("1.2"), testDocMeta, nil)
	assert.Empty(t, roundTripErrors(rec))

	std := testStandard("1.3")
	std.Strand = nil
	std.SubStrand = nil
	assert.Empty(t, roundTripErrors(Serialize(std, testDocMeta, nil)))
}
