// Package render writes audit reports for humans and machines.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/schaermu/themesniff/internal/audit"
	"github.com/schaermu/themesniff/internal/layer"
)

// Format selects the output encoding
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (must be text or json)", s)
}

// Write renders report to w in the given format
func Write(w io.Writer, report *audit.Report, format Format) error {
	switch format {
	case FormatJSON:
		return JSON(w, report)
	case FormatText, "":
		return Text(w, report)
	}
	return fmt.Errorf("unknown output format %q", format)
}

// JSON writes the report as indented JSON. File sets are encoded as
// sorted arrays.
func JSON(w io.Writer, report *audit.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// styles are bound to the output's renderer so colors are only emitted
// when w is a terminal.
type styles struct {
	heading  lipgloss.Style
	muted    lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
	critical lipgloss.Style
	warning  lipgloss.Style
	info     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		heading:  r.NewStyle().Bold(true).Underline(true).MarginTop(1),
		muted:    r.NewStyle().Faint(true),
		header:   r.NewStyle().Bold(true).Padding(0, 1),
		cell:     r.NewStyle().Padding(0, 1),
		critical: r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning:  r.NewStyle().Foreground(lipgloss.Color("11")),
		info:     r.NewStyle().Foreground(lipgloss.Color("12")),
	}
}

func (s styles) severity(sev audit.Severity) lipgloss.Style {
	switch sev {
	case audit.SeverityCritical:
		return s.critical
	case audit.SeverityWarning:
		return s.warning
	}
	return s.info
}

func (s styles) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.muted).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return s.cell
		})
}

// Text writes a sectioned, human-readable report
func Text(w io.Writer, report *audit.Report) error {
	s := newStyles(w)
	var b strings.Builder

	section := func(title string) {
		b.WriteString(s.heading.Render(title))
		b.WriteString("\n")
	}
	list := func(items []string) {
		if len(items) == 0 {
			b.WriteString(s.muted.Render("  (none)"))
			b.WriteString("\n")
			return
		}
		for _, item := range items {
			b.WriteString("  ")
			b.WriteString(item)
			b.WriteString("\n")
		}
	}

	section("Theme")
	overview := s.table("Property", "Value").
		Row("Child theme", orNone(report.Theme.ChildName)).
		Row("Child directory", report.Theme.ChildRoot).
		Row("Parent theme", orNone(report.Theme.ParentName)).
		Row("Parent directory", orNone(report.Theme.ParentRoot)).
		Row("Has parent", strconv.FormatBool(report.Theme.HasParent)).
		Row("Block templates", strconv.Itoa(report.BlockTemplates.Count)).
		Row("Run", report.RunID)
	if report.Theme.Commit != "" {
		overview.Row("Commit", report.Theme.Commit)
	}
	b.WriteString(overview.String())
	b.WriteString("\n")

	section("Core template coverage")
	coverage := s.table("Template", "Child", "Parent", "Severity", "Note")
	for _, e := range report.Coverage {
		for _, n := range e.Notes {
			coverage.Row(e.Name, mark(e.InChild), mark(e.InParent),
				s.severity(n.Severity).Render(string(n.Severity)), n.Text)
		}
	}
	b.WriteString(coverage.String())
	b.WriteString("\n")

	if report.Theme.HasParent {
		section("Child overrides of parent templates")
		list(report.Overrides.Overrides.Sorted())
		section("Parent-only templates")
		list(report.Overrides.ParentOnly.Sorted())
	}

	section("Miscellaneous templates (child)")
	list(report.Misc.Child.Sorted())
	if report.Theme.HasParent {
		section("Miscellaneous templates (parent)")
		list(report.Misc.Parent.Sorted())
	}

	section("Template catalog")
	if len(report.Catalog) == 0 {
		list(nil)
	} else {
		catalog := s.table("Name", "Path")
		for _, e := range report.Catalog {
			catalog.Row(e.Name, e.Path)
		}
		b.WriteString(catalog.String())
		b.WriteString("\n")
	}

	section("Unused catalog templates")
	unused := make([]string, 0, len(report.Usage.Unused))
	for _, e := range report.Usage.Unused {
		unused = append(unused, fmt.Sprintf("%s (%s)", e.Name, e.Path))
	}
	list(unused)

	section("Used templates missing from disk")
	list(report.Usage.MissingFromDisk)

	if len(report.Skipped) > 0 {
		section("Skipped paths")
		list(skipLines(report.Skipped))
	}
	if len(report.Errors) > 0 {
		section("Errors")
		list(report.Errors)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func mark(present bool) string {
	if present {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func skipLines(skipped []layer.Skip) []string {
	out := make([]string, 0, len(skipped))
	for _, sk := range skipped {
		out = append(out, sk.Path+": "+sk.Reason)
	}
	return out
}
