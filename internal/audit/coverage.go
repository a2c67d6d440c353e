package audit

import (
	"path"
	"strings"

	"github.com/schaermu/themesniff/internal/layer"
)

// Severity grades a coverage note
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Note codes attached to coverage entries
const (
	NoteMandatoryMissing     = "mandatory-missing"
	NoteGenericFallback      = "generic-fallback"
	NoteChildOverridesParent = "child-overrides-parent"
	NoteChildOnly            = "child-only"
	NoteParentFallback       = "parent-fallback"
)

// mandatoryStem is the one template the hierarchy cannot do without
const mandatoryStem = "index"

// Note is a human-readable observation about a core template
type Note struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// CoverageEntry records where one expected core template was found
type CoverageEntry struct {
	Name     string `json:"name"`
	InChild  bool   `json:"in_child"`
	InParent bool   `json:"in_parent"`
	Notes    []Note `json:"notes"`
}

// AnalyzeCoverage returns one entry per core name, in coreNames order.
// Membership is an exact root-level lookup in each set.
func AnalyzeCoverage(child, parent layer.FileSet, coreNames []string) []CoverageEntry {
	entries := make([]CoverageEntry, 0, len(coreNames))
	for _, name := range coreNames {
		inChild := child.Contains(name)
		inParent := parent.Contains(name)
		entries = append(entries, CoverageEntry{
			Name:     name,
			InChild:  inChild,
			InParent: inParent,
			Notes:    coverageNotes(name, inChild, inParent),
		})
	}
	return entries
}

// coverageNotes derives notes from the presence flags; first rule wins.
func coverageNotes(name string, inChild, inParent bool) []Note {
	switch {
	case !inChild && !inParent && isMandatory(name):
		return []Note{{
			Code:     NoteMandatoryMissing,
			Severity: SeverityCritical,
			Text:     "This is mandatory. If this is truly missing, the theme is broken.",
		}}
	case !inChild && !inParent:
		return []Note{{
			Code:     NoteGenericFallback,
			Severity: SeverityWarning,
			Text:     "Missing. The hierarchy will fall back to a more generic template.",
		}}
	case inChild && inParent:
		return []Note{{
			Code:     NoteChildOverridesParent,
			Severity: SeverityInfo,
			Text:     "Child theme overrides parent version.",
		}}
	case inChild:
		return []Note{{
			Code:     NoteChildOnly,
			Severity: SeverityInfo,
			Text:     "Only present in child theme.",
		}}
	default:
		return []Note{{
			Code:     NoteParentFallback,
			Severity: SeverityInfo,
			Text:     "Only present in parent. Child falls back to this.",
		}}
	}
}

func isMandatory(name string) bool {
	return strings.TrimSuffix(name, path.Ext(name)) == mandatoryStem
}
