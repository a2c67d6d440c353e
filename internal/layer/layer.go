// Package layer discovers template files under a theme layer root and
// reduces them to root-relative paths that can be joined across layers.
package layer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxDepth bounds recursion when no explicit depth is configured
const DefaultMaxDepth = 64

// Skip records a subtree that could not be traversed
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Listing is the result of listing one layer root
type Listing struct {
	Root    string
	Files   []string // absolute paths, sorted
	Skipped []Skip
}

// Lister enumerates files of one extension below a root directory
type Lister struct {
	Extension   string
	IgnoreDirs  []string
	IgnoreGlobs []string
	MaxDepth    int
	Logger      *slog.Logger
}

// NewLister creates a lister for the given extension (without the dot)
func NewLister(extension string, ignoreDirs, ignoreGlobs []string, maxDepth int, logger *slog.Logger) *Lister {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Lister{
		Extension:   strings.ToLower(strings.TrimPrefix(extension, ".")),
		IgnoreDirs:  ignoreDirs,
		IgnoreGlobs: ignoreGlobs,
		MaxDepth:    maxDepth,
		Logger:      logger,
	}
}

// List recursively finds matching files under root. A missing root, or a
// root that is not a directory, yields an empty listing. Subtrees that
// cannot be read are recorded in Skipped and traversal continues.
func (l *Lister) List(ctx context.Context, root string) (Listing, error) {
	listing := Listing{Root: root}

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		l.Logger.Debug("layer root not a directory, treating as empty", "root", root)
		return listing, nil
	}

	w := &walker{
		lister:  l,
		root:    root,
		listing: &listing,
	}
	if err := w.walk(ctx, root, []os.FileInfo{info}); err != nil {
		return Listing{Root: root}, err
	}

	sort.Strings(listing.Files)
	return listing, nil
}

type walker struct {
	lister  *Lister
	root    string
	listing *Listing
}

// walk descends into dir. ancestors holds the directories on the current
// path, dir included, and guards against symlink cycles.
func (w *walker) walk(ctx context.Context, dir string, ancestors []os.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	maxDepth := w.lister.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if len(ancestors)-1 > maxDepth {
		w.skip(dir, fmt.Sprintf("maximum depth %d exceeded", maxDepth))
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.skip(dir, err.Error())
		return nil
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		info, err := os.Stat(full) // follows symlinks
		if err != nil {
			if entry.Type()&fs.ModeSymlink != 0 {
				w.skip(full, "dangling symlink")
			} else {
				w.skip(full, err.Error())
			}
			continue
		}

		if info.IsDir() {
			if w.lister.ignoredDir(entry.Name()) || w.lister.ignoredPath(w.rel(full)) {
				continue
			}
			if isAncestor(ancestors, info) {
				w.skip(full, "symlink cycle")
				continue
			}
			if err := w.walk(ctx, full, append(ancestors[:len(ancestors):len(ancestors)], info)); err != nil {
				return err
			}
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}
		if !w.lister.matchesExtension(entry.Name()) {
			continue
		}
		if w.lister.ignoredPath(w.rel(full)) {
			continue
		}
		w.listing.Files = append(w.listing.Files, full)
	}
	return nil
}

func isAncestor(ancestors []os.FileInfo, info os.FileInfo) bool {
	for _, a := range ancestors {
		if os.SameFile(a, info) {
			return true
		}
	}
	return false
}

func (w *walker) rel(full string) string {
	rel, err := RelativePath(full, w.root)
	if err != nil {
		return ""
	}
	return rel
}

func (w *walker) skip(p, reason string) {
	w.lister.Logger.Warn("skipping unreadable path", "path", p, "reason", reason)
	w.listing.Skipped = append(w.listing.Skipped, Skip{Path: p, Reason: reason})
}

func (l *Lister) matchesExtension(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext != "" && strings.ToLower(ext) == l.Extension
}

func (l *Lister) ignoredDir(name string) bool {
	for _, ignored := range l.IgnoreDirs {
		if name == ignored {
			return true
		}
	}
	return false
}

func (l *Lister) ignoredPath(rel string) bool {
	if rel == "" {
		return false
	}
	for _, pattern := range l.IgnoreGlobs {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// RelativePath converts an absolute path under root to a root-relative
// path with "/" separators. It fails for the root itself and for paths
// outside root.
func RelativePath(absPath, root string) (string, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	rel = strings.TrimLeft(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return "", fmt.Errorf("path %s is the layer root", absPath)
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside layer root %s", absPath, root)
	}
	return rel, nil
}

// IsRootLevel reports whether a relative path has no directory component
func IsRootLevel(rel string) bool {
	return path.Dir(rel) == "."
}

// FileSet is a set of root-relative paths for one layer
type FileSet map[string]struct{}

// NewFileSet reduces a listing to its relative-path set. Paths that cannot
// be normalized are returned as skips.
func NewFileSet(listing Listing) (FileSet, []Skip) {
	set := make(FileSet, len(listing.Files))
	var skipped []Skip
	for _, file := range listing.Files {
		rel, err := RelativePath(file, listing.Root)
		if err != nil {
			skipped = append(skipped, Skip{Path: file, Reason: err.Error()})
			continue
		}
		set[rel] = struct{}{}
	}
	return set, skipped
}

// SetOf builds a FileSet from relative paths
func SetOf(paths ...string) FileSet {
	set := make(FileSet, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// Contains reports whether rel is in the set
func (s FileSet) Contains(rel string) bool {
	_, ok := s[rel]
	return ok
}

// Add inserts rel into the set
func (s FileSet) Add(rel string) {
	s[rel] = struct{}{}
}

// Len returns the number of paths in the set
func (s FileSet) Len() int {
	return len(s)
}

// Sorted returns the members in lexical order
func (s FileSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for rel := range s {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold exactly the same paths
func (s FileSet) Equal(other FileSet) bool {
	if len(s) != len(other) {
		return false
	}
	for rel := range s {
		if !other.Contains(rel) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array
func (s FileSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array of relative paths
func (s *FileSet) UnmarshalJSON(data []byte) error {
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return err
	}
	*s = SetOf(paths...)
	return nil
}

// BlockTemplates summarizes block-style template files
type BlockTemplates struct {
	Count int      `json:"count"`
	Paths []string `json:"paths"`
}

// CountBlockTemplates counts files with the given extension directly inside
// each of subdirs under every root. Missing directories are ignored.
func CountBlockTemplates(roots, subdirs []string, extension string) (BlockTemplates, error) {
	result := BlockTemplates{Paths: []string{}}
	ext := strings.TrimPrefix(extension, ".")
	for _, root := range roots {
		for _, sub := range subdirs {
			dir := filepath.Join(root, sub)
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				continue
			}
			matches, err := doublestar.Glob(os.DirFS(dir), "*."+ext)
			if err != nil {
				if errors.Is(err, doublestar.ErrBadPattern) {
					return result, fmt.Errorf("invalid block template extension %q: %w", extension, err)
				}
				continue
			}
			sort.Strings(matches)
			for _, m := range matches {
				full := filepath.Join(dir, filepath.FromSlash(m))
				if fi, err := os.Stat(full); err == nil && fi.Mode().IsRegular() {
					result.Paths = append(result.Paths, full)
				}
			}
		}
	}
	result.Count = len(result.Paths)
	return result, nil
}
