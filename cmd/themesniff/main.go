package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schaermu/themesniff/internal/audit"
	"github.com/schaermu/themesniff/internal/catalog"
	"github.com/schaermu/themesniff/internal/config"
	"github.com/schaermu/themesniff/internal/layer"
	"github.com/schaermu/themesniff/internal/render"
	"github.com/schaermu/themesniff/internal/server"
	"github.com/schaermu/themesniff/internal/source"
	"github.com/schaermu/themesniff/internal/usage"
	"github.com/schaermu/themesniff/internal/watch"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string

	// Output flags
	outputFormat string
	outputFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "themesniff",
	Short: "Audit the template files of a child theme and its parent",
	Long: `themesniff inspects the template files of a child theme and its optional
parent theme. It reports which core hierarchy templates each layer provides,
which parent files the child overrides, which non-core templates exist, and
which catalogued page templates are unused or referenced but missing.`,
	SilenceUsage: true,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a single audit and print the report",
	Long: `Audit scans both theme layers, reconciles the page template catalog with the
values stored by content items, and prints the report as text or JSON.

When source.url is configured, the theme repository is checked out first.`,
	RunE: runAudit,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve audit reports over HTTP",
	Long: `Serve starts an HTTP server answering GET /report with a fresh audit and
GET /healthz with a liveness response. /report requires the bearer token stored
in serve.token_file.`,
	RunE: runServe,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the audit whenever theme files change",
	Long: `Watch prints an audit, then watches both theme layers and prints a new report
each time changes settle for watch.debounce_ms milliseconds.`,
	RunE: runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "themesniff %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/themesniff/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file loaded before the config (default is .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	auditCmd.Flags().StringVar(&outputFormat, "format", "text", "report format (text, json)")
	auditCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the report to a file instead of stdout")
	watchCmd.Flags().StringVar(&outputFormat, "format", "text", "report format (text, json)")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	format, err := render.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, closeProviders, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProviders()

	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("audit failed", "error", err)
		return err
	}

	return writeReport(cmd.OutOrStdout(), report, format)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, closeProviders, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProviders()

	srv, err := server.NewServer(cfg, engine, logger)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	format, err := render.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Source.URL != "" {
		return fmt.Errorf("watch requires local theme directories; source.url is set")
	}

	engine, closeProviders, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProviders()

	out := cmd.OutOrStdout()
	auditOnce := func(ctx context.Context) {
		report, err := engine.Run(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("audit failed", "error", err)
			}
			return
		}
		if err := render.Write(out, report, format); err != nil {
			logger.Error("failed to write report", "error", err)
		}
	}

	auditOnce(ctx)

	roots := []string{cfg.ChildRoot()}
	if cfg.HasParent() {
		roots = append(roots, cfg.ParentRoot())
	}
	w := watch.New(roots, cfg.Theme.IgnoreDirs, time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, logger)
	logger.Info("watching theme layers", "roots", roots)
	return w.Run(ctx, auditOnce)
}

// buildEngine wires the configured providers into an audit engine. The
// returned func releases database handles.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*audit.Engine, func(), error) {
	catalogProvider, err := newCatalogProvider(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	usageProvider, closeUsage, err := newUsageProvider(cfg)
	if err != nil {
		return nil, nil, err
	}

	var fetcher source.Fetcher
	if cfg.Source.URL != "" {
		fetcher = source.NewGitFetcher(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
	}

	return audit.NewEngine(cfg, fetcher, catalogProvider, usageProvider, logger), closeUsage, nil
}

func newCatalogProvider(cfg *config.Config, logger *slog.Logger) (audit.CatalogProvider, error) {
	switch cfg.Catalog.Provider {
	case config.CatalogHeaders:
		lister := layer.NewLister(cfg.Theme.Extension, cfg.Theme.IgnoreDirs, cfg.Theme.IgnoreGlobs, cfg.Theme.MaxDepth, logger)
		return &catalog.Headers{
			Lister:     lister,
			ChildRoot:  cfg.ChildRoot(),
			ParentRoot: cfg.ParentRoot(),
		}, nil
	case config.CatalogFile:
		return &catalog.File{Path: cfg.Catalog.File}, nil
	case config.CatalogNone:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported catalog provider: %s", cfg.Catalog.Provider)
}

func newUsageProvider(cfg *config.Config) (audit.UsageProvider, func(), error) {
	noop := func() {}
	switch cfg.Usage.Driver {
	case config.UsageSQLite, config.UsagePgx:
		db, err := usage.OpenSQL(string(cfg.Usage.Driver), cfg.Usage.DSN, cfg.Usage.TablePrefix, cfg.Usage.MetaKey)
		if err != nil {
			return nil, noop, err
		}
		return db, func() { _ = db.Close() }, nil
	case config.UsageFile:
		return &usage.File{Path: cfg.Usage.File}, noop, nil
	case config.UsageNone:
		return nil, noop, nil
	}
	return nil, noop, fmt.Errorf("unsupported usage driver: %s", cfg.Usage.Driver)
}

// writeReport renders to --output when given, otherwise to out
func writeReport(out io.Writer, report *audit.Report, format render.Format) error {
	if outputFile == "" {
		return render.Write(out, report, format)
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := render.Write(f, report, format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}

// setupLogger logs to stderr so reports on stdout stay machine-readable
func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// loadEnvFile loads --env-file, or .env from the working directory when
// it exists. Variables already set in the environment win.
func loadEnvFile(logger *slog.Logger) error {
	path := envFile
	if path == "" {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	logger.Debug("loaded env file", "path", path)
	return nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if err := loadEnvFile(logger); err != nil {
		return nil, err
	}

	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "themesniff", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"child", cfg.ChildRoot(),
		"parent", cfg.ParentRoot(),
		"source", cfg.Source.URL,
		"catalog", cfg.Catalog.Provider,
		"usage", cfg.Usage.Driver)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
