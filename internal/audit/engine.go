package audit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/themesniff/internal/config"
	"github.com/schaermu/themesniff/internal/layer"
	"github.com/schaermu/themesniff/internal/source"
)

// Overview describes the audited layers
type Overview struct {
	ChildName  string `json:"child_name,omitempty"`
	ChildRoot  string `json:"child_root"`
	ParentName string `json:"parent_name,omitempty"`
	ParentRoot string `json:"parent_root,omitempty"`
	HasParent  bool   `json:"has_parent"`
	Commit     string `json:"commit,omitempty"`
}

// Report is the complete result of one audit run. Consumers render it
// as-is; nothing in it is derived lazily.
type Report struct {
	RunID          string               `json:"run_id"`
	GeneratedAt    time.Time            `json:"generated_at"`
	Theme          Overview             `json:"theme"`
	Coverage       []CoverageEntry      `json:"coverage"`
	Overrides      OverrideReport       `json:"overrides"`
	Misc           MiscReport           `json:"misc"`
	Catalog        []CatalogEntry       `json:"catalog"`
	UsedValues     []string             `json:"used_values"`
	Usage          UsageReport          `json:"usage"`
	BlockTemplates layer.BlockTemplates `json:"block_templates"`
	Skipped        []layer.Skip         `json:"skipped"`
	Errors         []string             `json:"errors"`
}

// Engine runs audits against the configured layers
type Engine struct {
	cfg     *config.Config
	fetcher source.Fetcher
	catalog CatalogProvider
	usage   UsageProvider
	lister  *layer.Lister
	logger  *slog.Logger
}

// NewEngine creates a new audit engine. fetcher is only used when the
// configuration names a Git source; catalog and usage may be nil.
func NewEngine(cfg *config.Config, fetcher source.Fetcher, catalog CatalogProvider, usage UsageProvider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		catalog: catalog,
		usage:   usage,
		lister:  layer.NewLister(cfg.Theme.Extension, cfg.Theme.IgnoreDirs, cfg.Theme.IgnoreGlobs, cfg.Theme.MaxDepth, logger),
		logger:  logger,
	}
}

// Run executes one complete audit. Only cancellation and source checkout
// failures abort the run; provider failures are recorded in Report.Errors.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Skipped:     []layer.Skip{},
		Errors:      []string{},
	}
	logger := e.logger.With("run_id", report.RunID)

	if e.cfg.Source.URL != "" {
		commit, err := e.checkout(ctx, logger)
		if err != nil {
			return nil, err
		}
		report.Theme.Commit = commit
	}

	hasParent := e.cfg.HasParent()
	report.Theme.ChildRoot = e.cfg.ChildRoot()
	report.Theme.ParentRoot = e.cfg.ParentRoot()
	report.Theme.HasParent = hasParent
	report.Theme.ChildName = layer.ReadThemeName(report.Theme.ChildRoot)
	if hasParent {
		report.Theme.ParentName = layer.ReadThemeName(report.Theme.ParentRoot)
	}

	logger.Info("starting audit",
		"child", report.Theme.ChildRoot,
		"child_name", report.Theme.ChildName,
		"parent", report.Theme.ParentRoot,
		"has_parent", hasParent)

	childSet, parentSet, skipped, err := e.scanLayers(ctx, report.Theme.ChildRoot, report.Theme.ParentRoot, hasParent)
	if err != nil {
		return nil, err
	}
	report.Skipped = append(report.Skipped, skipped...)

	logger.Info("scanned layers", "child_files", childSet.Len(), "parent_files", parentSet.Len(), "skipped", len(report.Skipped))

	coreNames := e.cfg.Theme.CoreNames
	report.Coverage = AnalyzeCoverage(childSet, parentSet, coreNames)
	report.Overrides = AnalyzeOverrides(childSet, parentSet, hasParent)
	report.Misc = MiscReport{
		Child:  ClassifyMisc(childSet, coreNames),
		Parent: ClassifyMisc(parentSet, coreNames),
	}

	blockRoots := []string{report.Theme.ChildRoot}
	if hasParent {
		blockRoots = append(blockRoots, report.Theme.ParentRoot)
	}
	blocks, err := layer.CountBlockTemplates(blockRoots, e.cfg.Theme.BlockDirs, e.cfg.Theme.BlockExtension)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}
	report.BlockTemplates = blocks

	report.Catalog = []CatalogEntry{}
	if e.catalog != nil {
		catalog, err := e.catalog.Catalog(ctx)
		if err != nil {
			logger.Warn("failed to load template catalog", "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("catalog: %v", err))
		} else if catalog != nil {
			report.Catalog = catalog
		}
	}

	report.UsedValues = []string{}
	if e.usage != nil {
		used, err := e.usage.UsedValues(ctx)
		if err != nil {
			logger.Warn("failed to load used template values", "error", err)
			report.Errors = append(report.Errors, fmt.Sprintf("usage: %v", err))
		} else if used != nil {
			report.UsedValues = used
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Usage = ReconcileUsage(report.Catalog, report.UsedValues)

	logger.Info("audit complete",
		"overrides", report.Overrides.Overrides.Len(),
		"parent_only", report.Overrides.ParentOnly.Len(),
		"child_misc", report.Misc.Child.Len(),
		"unused_templates", len(report.Usage.Unused),
		"missing_templates", len(report.Usage.MissingFromDisk),
		"block_templates", report.BlockTemplates.Count,
		"errors", len(report.Errors))

	return report, nil
}

// scanLayers lists both layers concurrently and joins them before any
// analysis. Without a parent the child set doubles as the parent set, so
// coverage flags always agree; overrides are suppressed separately.
func (e *Engine) scanLayers(ctx context.Context, childRoot, parentRoot string, hasParent bool) (layer.FileSet, layer.FileSet, []layer.Skip, error) {
	var childListing, parentListing layer.Listing

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		childListing, err = e.lister.List(gctx, childRoot)
		return err
	})
	if hasParent {
		g.Go(func() error {
			var err error
			parentListing, err = e.lister.List(gctx, parentRoot)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to scan layers: %w", err)
	}

	skipped := append([]layer.Skip{}, childListing.Skipped...)
	childSet, bad := layer.NewFileSet(childListing)
	skipped = append(skipped, bad...)

	parentSet := childSet
	if hasParent {
		skipped = append(skipped, parentListing.Skipped...)
		parentSet, bad = layer.NewFileSet(parentListing)
		skipped = append(skipped, bad...)
	}

	return childSet, parentSet, skipped, nil
}

// checkout refreshes the Git source into the state directory
func (e *Engine) checkout(ctx context.Context, logger *slog.Logger) (string, error) {
	if e.fetcher == nil {
		return "", fmt.Errorf("source.url is set but no fetcher is configured")
	}
	if err := os.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	logger.Info("fetching theme repository", "url", e.cfg.Source.URL, "ref", e.cfg.Source.Ref, "dest", e.cfg.RepoDir())
	commit, err := e.fetcher.Fetch(ctx, e.cfg.Source.URL, e.cfg.Source.Ref, e.cfg.RepoDir())
	if err != nil {
		return "", fmt.Errorf("failed to checkout theme repository: %w", err)
	}
	logger.Info("theme repository checked out", "commit", commit)
	return commit, nil
}
