package audit

import "context"

// DefaultTemplate is the catalog path meaning "no dedicated file, use the
// generic fallback". It never takes part in usage reconciliation.
const DefaultTemplate = "default"

// CatalogEntry is one selectable template declared by the active theme
type CatalogEntry struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// CatalogProvider supplies the ordered template catalog
type CatalogProvider interface {
	Catalog(ctx context.Context) ([]CatalogEntry, error)
}

// UsageProvider supplies the raw template values content declares.
// Duplicates are allowed.
type UsageProvider interface {
	UsedValues(ctx context.Context) ([]string, error)
}

// UsageReport cross-references the catalog with used values
type UsageReport struct {
	Unused          []CatalogEntry `json:"unused"`
	MissingFromDisk []string       `json:"missing_from_disk"`
}

// ReconcileUsage finds catalog entries nobody uses and used values that
// the catalog does not declare. Unused keeps catalog order; missing keeps
// first-encounter order with duplicates collapsed.
func ReconcileUsage(catalog []CatalogEntry, used []string) UsageReport {
	usedSet := make(map[string]struct{}, len(used))
	for _, v := range used {
		usedSet[v] = struct{}{}
	}
	available := make(map[string]struct{}, len(catalog))
	for _, entry := range catalog {
		available[entry.Path] = struct{}{}
	}

	report := UsageReport{
		Unused:          []CatalogEntry{},
		MissingFromDisk: []string{},
	}

	for _, entry := range catalog {
		if entry.Path == DefaultTemplate {
			continue
		}
		if _, ok := usedSet[entry.Path]; !ok {
			report.Unused = append(report.Unused, entry)
		}
	}

	seen := make(map[string]struct{})
	for _, v := range used {
		if v == DefaultTemplate {
			continue
		}
		if _, ok := available[v]; ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		report.MissingFromDisk = append(report.MissingFromDisk, v)
	}

	return report
}
