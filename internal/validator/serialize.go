package validator

import (
	"fmt"

	"github.com/elsflow/elsflow/internal/models"
)

// Serialize renders a normalized standard as a canonical record. Absent
// strand/sub_strand stay nil and marshal as explicit JSON null, never
// omitted, so Deserialize is unambiguous.
func Serialize(std models.NormalizedStandard, doc models.DocumentMeta, page *models.MetadataBlock) models.CanonicalRecord {
	rec := models.CanonicalRecord{
		Country: std.Jurisdiction.Country,
		State:   std.Jurisdiction.State,
		Document: models.DocumentBlock{
			Title:            doc.Title,
			VersionYear:      std.Jurisdiction.Year,
			SourceURL:        doc.SourceURL,
			AgeBand:          doc.AgeBand,
			PublishingAgency: doc.PublishingAgency,
		},
		Standard: models.StandardBlock{
			StandardID: std.StandardID,
			Domain:     models.LevelRef{Code: std.Domain.Code, Name: std.Domain.Name},
			Indicator:  models.IndicatorRef{Code: std.Indicator.Code, Description: std.Indicator.Description},
		},
		Metadata: models.MetadataBlock{
			PageNumber:      std.SourcePage,
			SourceTextChunk: std.SourceText,
		},
	}
	if std.Strand != nil {
		rec.Standard.Strand = &models.LevelRef{Code: std.Strand.Code, Name: std.Strand.Name}
	}
	if std.SubStrand != nil {
		rec.Standard.SubStrand = &models.LevelRef{Code: std.SubStrand.Code, Name: std.SubStrand.Name}
	}
	if page != nil {
		if page.PageNumber > 0 {
			rec.Metadata.PageNumber = page.PageNumber
		}
		if page.SourceTextChunk != "" {
			rec.Metadata.SourceTextChunk = page.SourceTextChunk
		}
		rec.Metadata.LastVerified = page.LastVerified
	}
	return rec
}

// Deserialize reverses Serialize. Document metadata beyond the version year
// stays on the record; everything that defines the standard itself round
// trips field for field.
func Deserialize(rec models.CanonicalRecord) (models.NormalizedStandard, error) {
	j := models.Jurisdiction{
		Country: rec.Country,
		State:   rec.State,
		Year:    rec.Document.VersionYear,
	}
	if err := j.Validate(); err != nil {
		return models.NormalizedStandard{}, fmt.Errorf("invalid jurisdiction in record %s: %w", rec.Standard.StandardID, err)
	}

	std := models.NormalizedStandard{
		StandardID:   rec.Standard.StandardID,
		Jurisdiction: j,
		Domain:       models.HierarchyLevel{Code: rec.Standard.Domain.Code, Name: rec.Standard.Domain.Name},
		Indicator:    models.HierarchyLevel{Code: rec.Standard.Indicator.Code, Description: rec.Standard.Indicator.Description},
		SourcePage:   rec.Metadata.PageNumber,
		SourceText:   rec.Metadata.SourceTextChunk,
	}
	if rec.Standard.Strand != nil {
		std.Strand = &models.HierarchyLevel{Code: rec.Standard.Strand.Code, Name: rec.Standard.Strand.Name}
	}
	if rec.Standard.SubStrand != nil {
		std.SubStrand = &models.HierarchyLevel{Code: rec.Standard.SubStrand.Code, Name: rec.Standard.SubStrand.Name}
	}
	return std, nil
}

// DocumentMetaOf extracts the document metadata carried by a record, used
// when re-serializing after a round trip.
func DocumentMetaOf(rec models.CanonicalRecord) models.DocumentMeta {
	return models.DocumentMeta{
		Title:            rec.Document.Title,
		SourceURL:        rec.Document.SourceURL,
		AgeBand:          rec.Document.AgeBand,
		PublishingAgency: rec.Document.PublishingAgency,
	}
}
