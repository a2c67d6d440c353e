// Package testutil locates and copies the theme fixtures shared by tests.
package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// FindProjectRoot walks up from this source file until it finds go.mod
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// ThemeFixtures returns the absolute path of testdata/themes
func ThemeFixtures(t testing.TB) string {
	t.Helper()
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("find project root: %v", err)
	}
	return filepath.Join(root, "testdata", "themes")
}

// CopyThemeFixtures copies testdata/themes into a fresh temp directory so a
// test can modify it, and returns the copy's path.
func CopyThemeFixtures(t testing.TB) string {
	t.Helper()
	src := ThemeFixtures(t)
	dst := filepath.Join(t.TempDir(), "themes")

	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
	if err != nil {
		t.Fatalf("copy theme fixtures: %v", err)
	}
	return dst
}
