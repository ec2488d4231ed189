package models

// Canonical JSON record structs. The field set and null behavior are a
// stable interoperability contract with the external stages: strand and
// sub_strand serialize as explicit null when absent (no omitempty), so the
// reverse mapping is unambiguous.

// LevelRef is a {code, name} reference inside a canonical record.
type LevelRef struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// IndicatorRef carries the leaf level. Indicators are described, not named.
type IndicatorRef struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// DocumentMeta describes the source document being normalized. Supplied by
// the operator alongside the raw file, typically as a YAML manifest, and
// recorded on the run so stage re-runs see the same metadata.
type DocumentMeta struct {
	Title            string `yaml:"title" json:"title" firestore:"title"`
	SourceURL        string `yaml:"source_url" json:"source_url" firestore:"sourceUrl"`
	AgeBand          string `yaml:"age_band" json:"age_band" firestore:"ageBand"`
	PublishingAgency string `yaml:"publishing_agency" json:"publishing_agency" firestore:"publishingAgency"`
}

// DocumentBlock is the source-document metadata block.
type DocumentBlock struct {
	Title            string `json:"title"`
	VersionYear      int    `json:"version_year"`
	SourceURL        string `json:"source_url"`
	AgeBand          string `json:"age_band"`
	PublishingAgency string `json:"publishing_agency"`
}

// StandardBlock is the normalized standard block of a canonical record.
type StandardBlock struct {
	StandardID string       `json:"standard_id"`
	Domain     LevelRef     `json:"domain"`
	Strand     *LevelRef    `json:"strand"`
	SubStrand  *LevelRef    `json:"sub_strand"`
	Indicator  IndicatorRef `json:"indicator"`
}

// MetadataBlock traces a record back to its origin in the raw document.
type MetadataBlock struct {
	PageNumber      int    `json:"page_number"`
	SourceTextChunk string `json:"source_text_chunk"`
	LastVerified    string `json:"last_verified"`
}

// CanonicalRecord is the persisted, validated form of one standard.
type CanonicalRecord struct {
	Country  string        `json:"country"`
	State    string        `json:"state"`
	Document DocumentBlock `json:"document"`
	Standard StandardBlock `json:"standard"`
	Metadata MetadataBlock `json:"metadata"`
}
