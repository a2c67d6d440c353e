package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/themesniff/internal/layer"
)

// CatalogProvider selects where the page template catalog comes from
type CatalogProvider string

const (
	CatalogHeaders CatalogProvider = "headers"
	CatalogFile    CatalogProvider = "file"
	CatalogNone    CatalogProvider = "none"
)

// UsageDriver selects where used template values are read from
type UsageDriver string

const (
	UsageSQLite UsageDriver = "sqlite"
	UsagePgx    UsageDriver = "pgx"
	UsageFile   UsageDriver = "file"
	UsageNone   UsageDriver = "none"
)

// DefaultCoreNames is the ordered list of root-level templates the
// hierarchy treats as structurally significant.
var DefaultCoreNames = []string{
	"index.php",
	"front-page.php",
	"home.php",
	"single.php",
	"page.php",
	"archive.php",
	"category.php",
	"tag.php",
	"author.php",
	"date.php",
	"search.php",
	"404.php",
	"attachment.php",
	"taxonomy.php",
	"singular.php",
}

// DefaultIgnoreDirs are directory names never descended into
var DefaultIgnoreDirs = []string{"node_modules", "vendor"}

// DefaultBlockDirs are the conventional block template subdirectories
var DefaultBlockDirs = []string{"templates", "parts"}

// Config represents the complete themesniff configuration
type Config struct {
	Theme   ThemeConfig   `yaml:"theme"`
	Source  SourceConfig  `yaml:"source"`
	Paths   PathsConfig   `yaml:"paths"`
	Catalog CatalogConfig `yaml:"catalog"`
	Usage   UsageConfig   `yaml:"usage"`
	Auth    AuthConfig    `yaml:"auth"`
	Serve   ServeConfig   `yaml:"serve"`
	Watch   WatchConfig   `yaml:"watch"`
}

// ThemeConfig describes the two template layers and how they are scanned.
// ParentDir is optional; an empty value means the child has no parent layer.
type ThemeConfig struct {
	ChildDir       string   `yaml:"child_dir"`
	ParentDir      string   `yaml:"parent_dir"`
	Extension      string   `yaml:"extension"`
	CoreNames      []string `yaml:"core_names"`
	IgnoreDirs     []string `yaml:"ignore_dirs"`
	IgnoreGlobs    []string `yaml:"ignore_globs"`
	BlockDirs      []string `yaml:"block_dirs"`
	BlockExtension string   `yaml:"block_extension"`
	MaxDepth       int      `yaml:"max_depth"`
}

// SourceConfig optionally pulls the theme layers from a Git repository.
// When URL is set, ChildSubdir and ParentSubdir resolve inside the checkout.
type SourceConfig struct {
	URL          string `yaml:"url"`
	Ref          string `yaml:"ref"`
	ChildSubdir  string `yaml:"child_subdir"`
	ParentSubdir string `yaml:"parent_subdir"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// CatalogConfig configures the template catalog source
type CatalogConfig struct {
	Provider CatalogProvider `yaml:"provider"`
	File     string          `yaml:"file"`
}

// UsageConfig configures the used-template data source
type UsageConfig struct {
	Driver      UsageDriver `yaml:"driver"`
	DSN         string      `yaml:"dsn"`
	TablePrefix string      `yaml:"table_prefix"`
	MetaKey     string      `yaml:"meta_key"`
	File        string      `yaml:"file"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// ServeConfig configures the report HTTP server
type ServeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	TokenFile  string `yaml:"token_file"`
}

// WatchConfig configures the watch command
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all path-like string fields
func (c *Config) expandEnv() {
	c.Theme.ChildDir = os.ExpandEnv(c.Theme.ChildDir)
	c.Theme.ParentDir = os.ExpandEnv(c.Theme.ParentDir)
	c.Source.URL = os.ExpandEnv(c.Source.URL)
	c.Source.Ref = os.ExpandEnv(c.Source.Ref)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Catalog.File = os.ExpandEnv(c.Catalog.File)
	c.Usage.DSN = os.ExpandEnv(c.Usage.DSN)
	c.Usage.File = os.ExpandEnv(c.Usage.File)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.TokenFile = os.ExpandEnv(c.Serve.TokenFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Theme.Extension == "" {
		c.Theme.Extension = "php"
	}
	c.Theme.Extension = strings.ToLower(strings.TrimPrefix(c.Theme.Extension, "."))
	if len(c.Theme.CoreNames) == 0 {
		c.Theme.CoreNames = append([]string(nil), DefaultCoreNames...)
	}
	if c.Theme.IgnoreDirs == nil {
		c.Theme.IgnoreDirs = append([]string(nil), DefaultIgnoreDirs...)
	}
	if len(c.Theme.BlockDirs) == 0 {
		c.Theme.BlockDirs = append([]string(nil), DefaultBlockDirs...)
	}
	if c.Theme.BlockExtension == "" {
		c.Theme.BlockExtension = "html"
	}
	if c.Theme.MaxDepth == 0 {
		c.Theme.MaxDepth = layer.DefaultMaxDepth
	}
	if c.Catalog.Provider == "" {
		if c.Catalog.File != "" {
			c.Catalog.Provider = CatalogFile
		} else {
			c.Catalog.Provider = CatalogHeaders
		}
	}
	if c.Usage.Driver == "" {
		c.Usage.Driver = UsageNone
	}
	if c.Usage.TablePrefix == "" {
		c.Usage.TablePrefix = "wp_"
	}
	if c.Usage.MetaKey == "" {
		c.Usage.MetaKey = "_wp_page_template"
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "127.0.0.1:8787"
	}
	if c.Watch.DebounceMs == 0 {
		c.Watch.DebounceMs = 500
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		if c.Theme.ChildDir == "" {
			return fmt.Errorf("theme.child_dir is required")
		}
		if !filepath.IsAbs(c.Theme.ChildDir) {
			return fmt.Errorf("theme.child_dir must be an absolute path: %s", c.Theme.ChildDir)
		}
		if c.Theme.ParentDir != "" && !filepath.IsAbs(c.Theme.ParentDir) {
			return fmt.Errorf("theme.parent_dir must be an absolute path: %s", c.Theme.ParentDir)
		}
	} else {
		if c.Source.Ref == "" {
			return fmt.Errorf("source.ref is required when source.url is set")
		}
		if c.Paths.StateDir == "" {
			return fmt.Errorf("paths.state_dir is required when source.url is set")
		}
		if !filepath.IsAbs(c.Paths.StateDir) {
			return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
		}
		for field, sub := range map[string]string{
			"source.child_subdir":  c.Source.ChildSubdir,
			"source.parent_subdir": c.Source.ParentSubdir,
		} {
			if filepath.IsAbs(sub) || escapesRoot(sub) {
				return fmt.Errorf("%s must be relative to the checkout: %s", field, sub)
			}
		}
	}

	if c.Theme.MaxDepth < 0 {
		return fmt.Errorf("theme.max_depth must not be negative: %d", c.Theme.MaxDepth)
	}
	for _, name := range c.Theme.CoreNames {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("theme.core_names entries must be plain file names: %q", name)
		}
	}

	switch c.Catalog.Provider {
	case CatalogHeaders, CatalogNone:
	case CatalogFile:
		if c.Catalog.File == "" {
			return fmt.Errorf("catalog.file is required for the file provider")
		}
	default:
		return fmt.Errorf("invalid catalog.provider: %s (must be headers, file, or none)", c.Catalog.Provider)
	}

	switch c.Usage.Driver {
	case UsageNone:
	case UsageSQLite, UsagePgx:
		if c.Usage.DSN == "" {
			return fmt.Errorf("usage.dsn is required for driver %s", c.Usage.Driver)
		}
		if !isIdentifier(c.Usage.TablePrefix) {
			return fmt.Errorf("usage.table_prefix contains invalid characters: %q", c.Usage.TablePrefix)
		}
	case UsageFile:
		if c.Usage.File == "" {
			return fmt.Errorf("usage.file is required for the file driver")
		}
	default:
		return fmt.Errorf("invalid usage.driver: %s (must be sqlite, pgx, file, or none)", c.Usage.Driver)
	}

	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but source.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but source.url does not use HTTPS scheme")
	}

	return nil
}

// HasParent reports whether a parent layer is configured
func (c *Config) HasParent() bool {
	if c.Source.URL != "" {
		return c.Source.ParentSubdir != "" && c.Source.ParentSubdir != c.Source.ChildSubdir
	}
	return c.Theme.ParentDir != "" && filepath.Clean(c.Theme.ParentDir) != filepath.Clean(c.Theme.ChildDir)
}

// RepoDir returns the path where the theme repository is checked out
func (c *Config) RepoDir() string {
	return filepath.Join(c.Paths.StateDir, "repo")
}

// ChildRoot returns the absolute root of the child layer
func (c *Config) ChildRoot() string {
	if c.Source.URL == "" {
		return c.Theme.ChildDir
	}
	return filepath.Join(c.RepoDir(), c.Source.ChildSubdir)
}

// ParentRoot returns the absolute root of the parent layer, or "" when
// there is no parent.
func (c *Config) ParentRoot() string {
	if !c.HasParent() {
		return ""
	}
	if c.Source.URL == "" {
		return c.Theme.ParentDir
	}
	return filepath.Join(c.RepoDir(), c.Source.ParentSubdir)
}

// IsHTTPS returns true if the source URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Source.URL, "https://")
}

// IsSSH returns true if the source URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Source.URL, "git@") || strings.HasPrefix(c.Source.URL, "ssh://")
}

func escapesRoot(rel string) bool {
	clean := filepath.ToSlash(filepath.Clean(rel))
	return clean == ".." || strings.HasPrefix(clean, "../")
}

func isIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
