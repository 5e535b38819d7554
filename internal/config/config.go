// Package config resolves settings and filesystem paths for the shell logger.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// RawDirName is the subtree holding unmodified captures.
	RawDirName = "RAW"
	// TodayName is the symlink retargeted to the current day directory.
	TodayName = "TODAY"
	// CatalogName is the DuckDB session catalog file under Dir.
	CatalogName = "catalog.duckdb"
)

// Config holds settings and base paths used by the logger.
type Config struct {
	Dir         string `yaml:"dir"`
	Multiplexer string `yaml:"multiplexer"`
	SelfName    string `yaml:"self_name"`
	LogLevel    string `yaml:"log_level"`

	// MaxSanitizeBytes is the size at which finished captures are left raw.
	MaxSanitizeBytes int64 `yaml:"max_sanitize_bytes"`

	ExcludeCommands []string `yaml:"exclude_commands"`
	PathsLimit      int      `yaml:"paths_limit"`
	Catalog         bool     `yaml:"catalog"`

	GC GCConfig `yaml:"gc"`
}

// GCConfig holds the deletion thresholds of the collector.
type GCConfig struct {
	MaxBytes   int64         `yaml:"max_bytes"`
	StaleBytes int64         `yaml:"stale_bytes"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Default returns a Config rooted at $TMPDIR/shlog.
func Default() Config {
	return Config{
		Dir:              filepath.Join(os.TempDir(), "shlog"),
		Multiplexer:      "auto",
		SelfName:         "shlog",
		LogLevel:         "warn",
		MaxSanitizeBytes: 100_000_000,
		ExcludeCommands:  []string{"wl"},
		PathsLimit:       100,
		Catalog:          true,
		GC: GCConfig{
			MaxBytes:   100_000_000,
			StaleBytes: 1_000_000,
			StaleAfter: 14 * 24 * time.Hour,
		},
	}
}

// DefaultPath returns the location of the user config file.
func DefaultPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "shlog", "config.yaml")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "shlog", "config.yaml")
}

// Load reads the YAML file at path over Default and applies environment
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("SHLOG_DIR"); v != "" {
		c.Dir = v
	}
	if v := getenv("SHLOG_MULTIPLEXER"); v != "" {
		c.Multiplexer = v
	}
}

// Validate rejects settings the rest of the program cannot work with.
func (c Config) Validate() error {
	if !filepath.IsAbs(c.Dir) {
		return fmt.Errorf("dir must be absolute, got %q", c.Dir)
	}
	switch c.Multiplexer {
	case "auto", "screen", "tmux":
	default:
		return fmt.Errorf("unknown multiplexer %q (want auto, screen or tmux)", c.Multiplexer)
	}
	if c.PathsLimit <= 0 {
		return fmt.Errorf("paths_limit must be positive, got %d", c.PathsLimit)
	}
	return nil
}

// --- Path layout ---

// RawRoot returns the top of the raw subtree.
func (c Config) RawRoot() string {
	return filepath.Join(c.Dir, RawDirName)
}

// Root returns the top of the raw subtree when raw is set, the sanitized one otherwise.
func (c Config) Root(raw bool) string {
	if raw {
		return c.RawRoot()
	}
	return c.Dir
}

// DayDir returns the directory holding the logs of the day containing t.
func (c Config) DayDir(t time.Time, raw bool) string {
	return filepath.Join(c.Root(raw), t.Format(DayLayout))
}

// TodayLink returns the path of the symlink pointing at the current day directory.
func (c Config) TodayLink(raw bool) string {
	return filepath.Join(c.Root(raw), TodayName)
}

// CommandDir returns the global per-command index directory.
func (c Config) CommandDir(command string, raw bool) string {
	return filepath.Join(c.Root(raw), command)
}

// CatalogPath returns the DuckDB catalog file path.
func (c Config) CatalogPath() string {
	return filepath.Join(c.Dir, CatalogName)
}

// Sanitized maps a raw log path to its sanitized counterpart. Paths outside
// the raw subtree are returned unchanged.
func (c Config) Sanitized(rawPath string) string {
	rel, ok := c.relRaw(rawPath)
	if !ok {
		return rawPath
	}
	return filepath.Join(c.Dir, rel)
}

// IsRaw reports whether path lies inside the raw subtree.
func (c Config) IsRaw(path string) bool {
	_, ok := c.relRaw(path)
	return ok
}

func (c Config) relRaw(path string) (string, bool) {
	prefix := c.RawRoot() + string(filepath.Separator)
	clean := filepath.Clean(path)
	if !strings.HasPrefix(clean, prefix) {
		return "", false
	}
	return strings.TrimPrefix(clean, prefix), true
}

// DayLayout is the time layout of date directory names.
const DayLayout = "2006-01-02"
