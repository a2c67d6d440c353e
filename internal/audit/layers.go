package audit

import (
	"github.com/schaermu/themesniff/internal/layer"
)

// OverrideReport lists child files shadowing the parent and files the
// child inherits untouched. Both sets are empty without a parent layer.
type OverrideReport struct {
	Overrides  layer.FileSet `json:"overrides"`
	ParentOnly layer.FileSet `json:"parent_only"`
}

// AnalyzeOverrides computes child∩parent and parent−child. When hasParent
// is false nothing is computed and both sets are empty, even if the sets
// passed in overlap.
func AnalyzeOverrides(child, parent layer.FileSet, hasParent bool) OverrideReport {
	report := OverrideReport{
		Overrides:  layer.FileSet{},
		ParentOnly: layer.FileSet{},
	}
	if !hasParent {
		return report
	}

	for rel := range child {
		if parent.Contains(rel) {
			report.Overrides.Add(rel)
		}
	}
	for rel := range parent {
		if !child.Contains(rel) {
			report.ParentOnly.Add(rel)
		}
	}
	return report
}

// MiscReport holds the non-core files of each layer
type MiscReport struct {
	Child  layer.FileSet `json:"child"`
	Parent layer.FileSet `json:"parent"`
}

// IsCoreTemplate reports whether rel sits at the layer root and its name
// is one of coreNames.
func IsCoreTemplate(rel string, coreNames []string) bool {
	if !layer.IsRootLevel(rel) {
		return false
	}
	for _, name := range coreNames {
		if rel == name {
			return true
		}
	}
	return false
}

// ClassifyMisc returns every path in set that is not a core template.
// Files in subdirectories are always miscellaneous, whatever their name.
func ClassifyMisc(set layer.FileSet, coreNames []string) layer.FileSet {
	misc := layer.FileSet{}
	for rel := range set {
		if !IsCoreTemplate(rel, coreNames) {
			misc.Add(rel)
		}
	}
	return misc
}
