//go:build integration

package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/schaermu/themesniff/internal/testutil"
)

// reportJSON holds the report fields the scenarios assert on
type reportJSON struct {
	Theme struct {
		HasParent bool   `json:"has_parent"`
		Commit    string `json:"commit"`
	} `json:"theme"`
	Overrides struct {
		Overrides  []string `json:"overrides"`
		ParentOnly []string `json:"parent_only"`
	} `json:"overrides"`
	Usage struct {
		Unused []struct {
			Name string `json:"name"`
		} `json:"unused"`
		MissingFromDisk []string `json:"missing_from_disk"`
	} `json:"usage"`
	BlockTemplates struct {
		Count int `json:"count"`
	} `json:"block_templates"`
	Errors []string `json:"errors"`
}

func TestCLI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t, ctx)
	themes := testutil.CopyThemeFixtures(t)

	t.Run("A_AuditText", func(t *testing.T) {
		testAuditText(t, h, ctx, themes)
	})

	t.Run("B_AuditJSONWithSQLite", func(t *testing.T) {
		testAuditJSONWithSQLite(t, h, ctx, themes)
	})

	t.Run("C_AuditGitSource", func(t *testing.T) {
		testAuditGitSource(t, h, ctx, themes)
	})

	t.Run("D_ServeReport", func(t *testing.T) {
		testServeReport(t, h, ctx, themes)
	})
}

func localConfig(themes, extra string) string {
	return fmt.Sprintf(`theme:
  child_dir: %s
  parent_dir: %s
catalog:
  file: %s
%s`, filepath.Join(themes, "child"), filepath.Join(themes, "parent"), filepath.Join(themes, "catalog.yaml"), extra)
}

func testAuditText(t *testing.T, h *Harness, ctx context.Context, themes string) {
	cfg := h.WriteFile("a/config.yaml", localConfig(themes, fmt.Sprintf("usage:\n  driver: file\n  file: %s\n", filepath.Join(themes, "used.txt"))))

	stdout, _ := h.MustRun(ctx, "audit", "--config", cfg, "--log-level", "error")

	for _, want := range []string{"Core template coverage", "templates/old-promo.php", "Landing (templates/landing.php)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected %q in text report:\n%s", want, stdout)
		}
	}
}

func testAuditJSONWithSQLite(t *testing.T, h *Harness, ctx context.Context, themes string) {
	dbPath := h.Path("b/content.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE site_postmeta (meta_id INTEGER PRIMARY KEY, post_id INTEGER, meta_key TEXT, meta_value TEXT)`,
		`INSERT INTO site_postmeta (post_id, meta_key, meta_value) VALUES (1, '_wp_page_template', 'templates/contact.php')`,
		`INSERT INTO site_postmeta (post_id, meta_key, meta_value) VALUES (2, '_wp_page_template', 'templates/retired.php')`,
		`INSERT INTO site_postmeta (post_id, meta_key, meta_value) VALUES (3, '_wp_page_template', 'default')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed database: %v", err)
		}
	}
	_ = db.Close()

	cfg := h.WriteFile("b/config.yaml", localConfig(themes, fmt.Sprintf("usage:\n  driver: sqlite\n  dsn: %s\n  table_prefix: site_\n", dbPath)))
	out := h.Path("b/report.json")

	h.MustRun(ctx, "audit", "--config", cfg, "--format", "json", "--output", out, "--log-format", "json")

	report := readReport(t, out)
	if len(report.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if got := report.Usage.MissingFromDisk; len(got) != 1 || got[0] != "templates/retired.php" {
		t.Errorf("missing_from_disk = %v, want [templates/retired.php]", got)
	}
	var unused []string
	for _, e := range report.Usage.Unused {
		unused = append(unused, e.Name)
	}
	if strings.Join(unused, ",") != "Full Width,Landing" {
		t.Errorf("unused = %v, want [Full Width Landing]", unused)
	}
	if report.BlockTemplates.Count != 3 {
		t.Errorf("block template count = %d, want 3", report.BlockTemplates.Count)
	}
}

func testAuditGitSource(t *testing.T, h *Harness, ctx context.Context, themes string) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := h.Path("c/repo")
	git := func(args ...string) {
		t.Helper()
		cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repo}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	if err := os.MkdirAll(repo, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.CopyFS(filepath.Join(repo, "wp-content", "themes"), os.DirFS(themes)); err != nil {
		t.Fatalf("copy themes: %v", err)
	}
	git("init", "-b", "main")
	git("add", ".")
	git("commit", "-m", "themes")

	cfg := h.WriteFile("c/config.yaml", fmt.Sprintf(`source:
  url: %s
  ref: main
  child_subdir: wp-content/themes/child
  parent_subdir: wp-content/themes/parent
paths:
  state_dir: %s
catalog:
  provider: headers
`, repo, h.Path("c/state")))

	stdout, _ := h.MustRun(ctx, "audit", "--config", cfg, "--format", "json", "--log-level", "error")

	var report reportJSON
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout)
	}
	if !report.Theme.HasParent || len(report.Theme.Commit) != 40 {
		t.Errorf("unexpected overview: %+v", report.Theme)
	}
	if len(report.Overrides.ParentOnly) != 4 {
		t.Errorf("parent_only = %v, want 4 entries", report.Overrides.ParentOnly)
	}
}

func testServeReport(t *testing.T, h *Harness, ctx context.Context, themes string) {
	addr := freeAddr(t)
	token := h.WriteFile("d/token", "integration-token\n")
	cfg := h.WriteFile("d/config.yaml", localConfig(themes, fmt.Sprintf("serve:\n  listen_addr: %s\n  token_file: %s\n", addr, token)))

	h.Start(ctx, "serve", "--config", cfg)

	base := "http://" + addr
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	resp, err := http.Get(base + "/report")
	if err != nil {
		t.Fatalf("GET /report: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/report", nil)
	req.Header.Set("Authorization", "Bearer integration-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /report: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	var report reportJSON
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Overrides.Overrides) != 4 {
		t.Errorf("overrides = %v, want 4 entries", report.Overrides.Overrides)
	}
}

func readReport(t *testing.T, path string) reportJSON {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report reportJSON
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return report
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
