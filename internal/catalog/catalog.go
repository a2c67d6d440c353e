// Package catalog provides the declared set of selectable page templates.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/themesniff/internal/audit"
	"github.com/schaermu/themesniff/internal/layer"
)

var templateName = layer.NewHeaderField("Template Name")

// Static is a fixed catalog
type Static []audit.CatalogEntry

// Catalog returns the entries as given
func (s Static) Catalog(_ context.Context) ([]audit.CatalogEntry, error) {
	return append([]audit.CatalogEntry(nil), s...), nil
}

// File reads an ordered catalog from a YAML document of the form
//
//	templates:
//	  - name: Full Width
//	    path: templates/full-width.php
type File struct {
	Path string
}

type fileDocument struct {
	Templates []audit.CatalogEntry `yaml:"templates"`
}

// Catalog parses the file on every call
func (f *File) Catalog(_ context.Context) ([]audit.CatalogEntry, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if doc.Templates == nil {
		return []audit.CatalogEntry{}, nil
	}
	return doc.Templates, nil
}

// Headers derives the catalog from "Template Name:" headers in the files of
// both layers. Only files at the layer root or one directory below it are
// considered. A child file replaces the parent file with the same relative
// path. Entries are ordered by name, then path.
type Headers struct {
	Lister     *layer.Lister
	ChildRoot  string
	ParentRoot string // empty when there is no parent layer
}

// Catalog scans the layers on every call
func (h *Headers) Catalog(ctx context.Context) ([]audit.CatalogEntry, error) {
	byPath := make(map[string]string)

	roots := []string{}
	if h.ParentRoot != "" {
		roots = append(roots, h.ParentRoot)
	}
	roots = append(roots, h.ChildRoot)

	for _, root := range roots {
		listing, err := h.Lister.List(ctx, root)
		if err != nil {
			return nil, err
		}
		for _, file := range listing.Files {
			rel, err := layer.RelativePath(file, root)
			if err != nil || strings.Count(rel, "/") > 1 {
				continue
			}
			name, ok, err := templateName.ReadFile(file)
			if err != nil {
				h.Lister.Logger.Warn("failed to read template header", "path", file, "error", err)
				continue
			}
			if ok {
				byPath[rel] = name
			} else {
				delete(byPath, rel)
			}
		}
	}

	entries := make([]audit.CatalogEntry, 0, len(byPath))
	for rel, name := range byPath {
		entries = append(entries, audit.CatalogEntry{Name: name, Path: rel})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

// ParseTemplateName extracts the value of a "Template Name:" header from
// file content. The header may share its line with the opening PHP tag.
func ParseTemplateName(content string) (string, bool) {
	return templateName.Parse(content)
}
