// Package parser collapses arbitrary-depth detected document structure into
// the canonical four-level hierarchy (domain, strand, sub_strand,
// indicator) and assigns deterministic standard IDs.
package parser

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/elsflow/elsflow/internal/models"
)

// Stage-fatal parse outcomes. Data-quality issues (low-confidence or
// orphaned elements) are reported in the Result instead.
var (
	ErrNoUsableElements = errors.New("no usable elements to parse (all flagged for review)")
	ErrNoDomains        = errors.New("no domain elements found")
	ErrNoIndicators     = errors.New("no indicator elements found")
)

// Result is the parse outcome. Excluded holds the needs_review elements,
// which were never attempted; Orphaned holds elements that were attempted
// but have no resolvable path to a domain. The two fates are distinct and
// both are reported, never silently dropped.
type Result struct {
	Standards []models.NormalizedStandard
	Orphaned  []models.DetectedElement
	Excluded  []models.DetectedElement
}

// StandardID generates the deterministic identifier for a standard:
// {jurisdiction_key}-{domain_code}-{indicator_code}. Pure function of its
// inputs, so identical re-runs produce identical IDs.
func StandardID(j models.Jurisdiction, domainCode, indicatorCode string) string {
	return fmt.Sprintf("%s-%s-%s", j.Key(), domainCode, indicatorCode)
}

// ranked pairs an element with its canonical level after depth
// normalization.
type ranked struct {
	element   models.DetectedElement
	canonical models.Level
}

// Parse normalizes a flat list of detected elements into standards.
//
// Elements flagged needs_review are excluded up front. The distinct
// detected levels, ordered by first appearance in the document, determine
// the hierarchy depth; depth 2 maps to {domain, indicator}, depth 3 to
// {domain, strand, indicator}, and depth 4 or more to all four canonical
// levels with every rank past the third collapsing into the indicator
// level. Parent assignment follows document order: each indicator attaches
// to the nearest preceding element of each higher canonical level.
func Parse(elements []models.DetectedElement, j models.Jurisdiction) (*Result, error) {
	result := &Result{}

	var usable []models.DetectedElement
	for _, e := range elements {
		if e.NeedsReview {
			result.Excluded = append(result.Excluded, e)
			continue
		}
		usable = append(usable, e)
	}
	if len(usable) == 0 {
		return result, ErrNoUsableElements
	}

	canonical := assignCanonicalLevels(usable)

	var haveDomain, haveIndicator bool
	for _, r := range canonical {
		switch r.canonical {
		case models.LevelDomain:
			haveDomain = true
		case models.LevelIndicator:
			haveIndicator = true
		}
	}
	if !haveDomain {
		result.Orphaned = usable
		return result, ErrNoDomains
	}
	if !haveIndicator {
		result.Orphaned = usable
		return result, ErrNoIndicators
	}

	// Walk in document order, tracking the current ancestor at each
	// canonical level. A new domain resets strand and sub_strand; a new
	// strand resets sub_strand. This is the "nearest preceding ancestor"
	// tie-break rule.
	var curDomain, curStrand, curSubStrand *models.DetectedElement

	for i := range canonical {
		r := canonical[i]
		switch r.canonical {
		case models.LevelDomain:
			curDomain = &canonical[i].element
			curStrand = nil
			curSubStrand = nil
		case models.LevelStrand:
			curStrand = &canonical[i].element
			curSubStrand = nil
		case models.LevelSubStrand:
			curSubStrand = &canonical[i].element
		case models.LevelIndicator:
			if curDomain == nil {
				// No path to a domain; report, never fabricate a
				// placeholder.
				result.Orphaned = append(result.Orphaned, r.element)
				continue
			}
			if curDomain.SourcePage > r.element.SourcePage {
				slog.Debug("Indicator attached to a later-page domain.",
					"indicatorCode", r.element.Code,
					"indicatorPage", r.element.SourcePage,
					"domainCode", curDomain.Code,
					"domainPage", curDomain.SourcePage)
			}
			result.Standards = append(result.Standards, buildStandard(j, curDomain, curStrand, curSubStrand, r.element))
		}
	}

	if len(result.Standards) == 0 {
		return result, ErrNoIndicators
	}
	return result, nil
}

// assignCanonicalLevels maps each element's detected level onto a canonical
// level. The distinct detected levels are ranked by first appearance in
// document order; the rank, together with the overall depth, selects the
// canonical level.
func assignCanonicalLevels(elements []models.DetectedElement) []ranked {
	rankOf := make(map[models.Level]int)
	for _, e := range elements {
		if _, seen := rankOf[e.Level]; !seen {
			rankOf[e.Level] = len(rankOf)
		}
	}
	depth := len(rankOf)

	out := make([]ranked, 0, len(elements))
	for _, e := range elements {
		out = append(out, ranked{element: e, canonical: canonicalFor(rankOf[e.Level], depth)})
	}
	return out
}

// canonicalFor selects the canonical level for a depth rank.
//
//	depth 2:  domain, indicator
//	depth 3:  domain, strand, indicator
//	depth 4+: domain, strand, sub_strand, indicator (ranks past the third
//	          collapse into the indicator level, keeping the leaf text)
func canonicalFor(rank, depth int) models.Level {
	switch depth {
	case 1:
		return models.LevelIndicator
	case 2:
		if rank == 0 {
			return models.LevelDomain
		}
		return models.LevelIndicator
	case 3:
		switch rank {
		case 0:
			return models.LevelDomain
		case 1:
			return models.LevelStrand
		}
		return models.LevelIndicator
	default:
		switch rank {
		case 0:
			return models.LevelDomain
		case 1:
			return models.LevelStrand
		case 2:
			return models.LevelSubStrand
		}
		return models.LevelIndicator
	}
}

func buildStandard(j models.Jurisdiction, domain, strand, subStrand *models.DetectedElement, indicator models.DetectedElement) models.NormalizedStandard {
	std := models.NormalizedStandard{
		StandardID:   StandardID(j, domain.Code, indicator.Code),
		Jurisdiction: j,
		Domain:       models.HierarchyLevel{Code: domain.Code, Name: domain.Title},
		Indicator:    models.HierarchyLevel{Code: indicator.Code, Description: indicatorText(indicator)},
		SourcePage:   indicator.SourcePage,
		SourceText:   indicator.SourceText,
	}
	if strand != nil {
		std.Strand = &models.HierarchyLevel{Code: strand.Code, Name: strand.Title}
	}
	if subStrand != nil {
		std.SubStrand = &models.HierarchyLevel{Code: subStrand.Code, Name: subStrand.Title}
	}
	return std
}

// indicatorText picks the indicator's descriptive text. Detectors usually
// fill description; title is the fallback so the leaf text survives either
// way.
func indicatorText(e models.DetectedElement) string {
	if e.Description != "" {
		return e.Description
	}
	return e.Title
}
