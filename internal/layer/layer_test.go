package layer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func relPaths(t *testing.T, listing Listing) []string {
	t.Helper()
	set, skipped := NewFileSet(listing)
	require.Empty(t, skipped)
	return set.Sorted()
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.php":                     "<?php",
		"style.css":                     "/* */",
		"single.PHP":                    "<?php",
		"template-parts/header.php":     "<?php",
		"template-parts/deep/nav.php":   "<?php",
		"node_modules/pkg/index.php":    "<?php",
		"vendor/autoload.php":           "<?php",
		"inc/vendor/lib.php":            "<?php",
		"templates/home.html":           "<!-- wp:template -->",
		"vendor.php":                    "<?php",
		"assets/js/node_modules.php.js": "",
	})

	lister := NewLister("php", []string{"node_modules", "vendor"}, nil, 0, testLogger())
	listing, err := lister.List(context.Background(), dir)
	require.NoError(t, err)

	want := []string{
		"index.php",
		"single.PHP",
		"template-parts/deep/nav.php",
		"template-parts/header.php",
		"vendor.php",
	}
	assert.Equal(t, want, relPaths(t, listing))
	assert.Empty(t, listing.Skipped)

	for _, f := range listing.Files {
		assert.True(t, filepath.IsAbs(f), "expected absolute path, got %s", f)
	}
}

func TestList_MissingRoot(t *testing.T) {
	lister := NewLister("php", nil, nil, 0, testLogger())

	listing, err := lister.List(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, listing.Files)

	file := filepath.Join(t.TempDir(), "index.php")
	require.NoError(t, os.WriteFile(file, []byte("<?php"), 0644))
	listing, err = lister.List(context.Background(), file)
	require.NoError(t, err)
	assert.Empty(t, listing.Files, "a file root is not a layer")
}

func TestList_IgnoreGlobs(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.php":              "<?php",
		"build/compiled.php":     "<?php",
		"tests/unit/FooTest.php": "<?php",
		"inc/helpers.php":        "<?php",
	})

	lister := NewLister("php", nil, []string{"build", "**/*Test.php"}, 0, testLogger())
	listing, err := lister.List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"inc/helpers.php", "index.php"}, relPaths(t, listing))
}

func TestList_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"b.php":     "",
		"a.php":     "",
		"z/c.php":   "",
		"y/x/d.php": "",
	})

	lister := NewLister("php", nil, nil, 0, testLogger())
	first, err := lister.List(context.Background(), dir)
	require.NoError(t, err)
	second, err := lister.List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, first.Files, second.Files)
}

func TestList_MaxDepth(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"top.php":        "",
		"a/one.php":      "",
		"a/b/two.php":    "",
		"a/b/c/deep.php": "",
	})

	lister := NewLister("php", nil, nil, 2, testLogger())
	listing, err := lister.List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a/b/two.php", "a/one.php", "top.php"}, relPaths(t, listing))
	require.Len(t, listing.Skipped, 1)
	assert.Equal(t, filepath.Join(dir, "a", "b", "c"), listing.Skipped[0].Path)
}

func TestList_SymlinkCycle(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.php":     "",
		"parts/nav.php": "",
		"shared.php":    "",
	})
	// parts/loop -> dir, and a file symlink
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "parts", "loop")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "shared.php"), filepath.Join(dir, "parts", "linked.php")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing.php"), filepath.Join(dir, "dangling.php")))

	lister := NewLister("php", nil, nil, 0, testLogger())
	listing, err := lister.List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"index.php", "parts/linked.php", "parts/nav.php", "shared.php"}, relPaths(t, listing))

	reasons := map[string]string{}
	for _, s := range listing.Skipped {
		reasons[s.Path] = s.Reason
	}
	assert.Equal(t, "symlink cycle", reasons[filepath.Join(dir, "parts", "loop")])
	assert.Equal(t, "dangling symlink", reasons[filepath.Join(dir, "dangling.php")])
}

func TestList_UnreadableSubdir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for this user")
	}
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"index.php":         "",
		"locked/secret.php": "",
	})
	locked := filepath.Join(dir, "locked")
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	lister := NewLister("php", nil, nil, 0, testLogger())
	listing, err := lister.List(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"index.php"}, relPaths(t, listing))
	require.Len(t, listing.Skipped, 1)
	assert.Equal(t, locked, listing.Skipped[0].Path)
}

func TestList_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"index.php": ""})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lister := NewLister("php", nil, nil, 0, testLogger())
	_, err := lister.List(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelativePath(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "theme")
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "root file", path: filepath.Join(root, "index.php"), want: "index.php"},
		{name: "nested file", path: filepath.Join(root, "parts", "header.php"), want: "parts/header.php"},
		{name: "root itself", path: root, wantErr: true},
		{name: "sibling", path: filepath.Join(root, "..", "other", "index.php"), wantErr: true},
		{name: "prefix sibling", path: root + "-child" + string(filepath.Separator) + "index.php", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelativePath(tt.path, root)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RelativePath(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RelativePath(%q) error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("RelativePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRelativePath_SameForBothLayers(t *testing.T) {
	child := filepath.Join(string(filepath.Separator), "themes", "child")
	parent := filepath.Join(string(filepath.Separator), "themes", "parent")

	c, err := RelativePath(filepath.Join(child, "parts", "nav.php"), child)
	require.NoError(t, err)
	p, err := RelativePath(filepath.Join(parent, "parts", "nav.php"), parent)
	require.NoError(t, err)

	assert.Equal(t, c, p)
}

func TestNewFileSet(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "theme")
	listing := Listing{
		Root: root,
		Files: []string{
			filepath.Join(root, "index.php"),
			filepath.Join(root, "parts", "nav.php"),
			filepath.Join(string(filepath.Separator), "elsewhere", "x.php"),
		},
	}

	set, skipped := NewFileSet(listing)
	assert.Equal(t, []string{"index.php", "parts/nav.php"}, set.Sorted())
	require.Len(t, skipped, 1)
	assert.Equal(t, filepath.Join(string(filepath.Separator), "elsewhere", "x.php"), skipped[0].Path)
}

func TestIsRootLevel(t *testing.T) {
	assert.True(t, IsRootLevel("index.php"))
	assert.False(t, IsRootLevel("parts/index.php"))
	assert.False(t, IsRootLevel("a/b/c.php"))
}

func TestFileSet(t *testing.T) {
	s := SetOf("b.php", "a.php")
	s.Add("c/d.php")
	s.Add("a.php")

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains("c/d.php"))
	assert.False(t, s.Contains("C/d.php"), "membership is case-sensitive")
	assert.True(t, s.Equal(SetOf("a.php", "b.php", "c/d.php")))
	assert.False(t, s.Equal(SetOf("a.php", "b.php", "c/e.php")))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["a.php","b.php","c/d.php"]`, string(data))

	var decoded FileSet
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(s))

	empty, err := json.Marshal(FileSet{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestCountBlockTemplates(t *testing.T) {
	child := t.TempDir()
	parent := t.TempDir()
	writeTree(t, child, map[string]string{
		"templates/index.html":    "",
		"templates/single.html":   "",
		"templates/nested/x.html": "",
		"templates/readme.md":     "",
		"parts/header.html":       "",
		"patterns/hero.html":      "",
	})
	writeTree(t, parent, map[string]string{
		"parts/footer.html": "",
	})

	got, err := CountBlockTemplates([]string{child, parent}, []string{"templates", "parts"}, "html")
	require.NoError(t, err)

	assert.Equal(t, 4, got.Count)
	assert.Equal(t, []string{
		filepath.Join(child, "templates", "index.html"),
		filepath.Join(child, "templates", "single.html"),
		filepath.Join(child, "parts", "header.html"),
		filepath.Join(parent, "parts", "footer.html"),
	}, got.Paths)
}

func TestCountBlockTemplates_None(t *testing.T) {
	got, err := CountBlockTemplates([]string{filepath.Join(t.TempDir(), "missing")}, []string{"templates"}, "html")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count)
	assert.Empty(t, got.Paths)
}
