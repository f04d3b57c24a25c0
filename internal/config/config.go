// Package config loads codexdoc settings from defaults, .codexdoc.yaml,
// a .env file and CODEXDOC_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Defaults.
const (
	DefaultCacheDir      = ".codex-cache"
	DefaultCacheMaxAge   = 7 * 24 * time.Hour
	DefaultHistorySource = SourceGoGit
	DefaultBatchSize     = 100
	DefaultThreshold     = 0.5
	DefaultTop           = 10
	DefaultOutputDir     = "docs/codexdoc"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// History source names.
const (
	SourceGoGit = "gogit"
	SourceCLI   = "cli"
)

// Config is the top-level configuration. mapstructure tags drive viper,
// yaml tags drive Save.
type Config struct {
	Scan    ScanConfig    `mapstructure:"scan" yaml:"scan"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

type ScanConfig struct {
	Workers      int      `mapstructure:"workers" yaml:"workers"`
	Exclude      []string `mapstructure:"exclude" yaml:"exclude"`
	ExcludeDirs  []string `mapstructure:"exclude_dirs" yaml:"exclude_dirs"`
	StrictVendor bool     `mapstructure:"strict_vendor" yaml:"strict_vendor"`
	Languages    []string `mapstructure:"languages" yaml:"languages"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type HistoryConfig struct {
	Source      string  `mapstructure:"source" yaml:"source"`
	MaxCommits  int     `mapstructure:"max_commits" yaml:"max_commits"`
	BatchSize   int     `mapstructure:"batch_size" yaml:"batch_size"`
	Threshold   float64 `mapstructure:"threshold" yaml:"threshold"`
	Precise     bool    `mapstructure:"precise" yaml:"precise"`
	TrackedOnly bool    `mapstructure:"tracked_only" yaml:"tracked_only"`
	Top         int     `mapstructure:"top" yaml:"top"`
}

type OutputConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	SQLite string `mapstructure:"sqlite" yaml:"sqlite"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Exclude:     []string{},
			ExcludeDirs: []string{},
			Languages:   []string{},
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     DefaultCacheDir,
			MaxAge:  DefaultCacheMaxAge,
		},
		History: HistoryConfig{
			Source:    DefaultHistorySource,
			BatchSize: DefaultBatchSize,
			Threshold: DefaultThreshold,
			Top:       DefaultTop,
		},
		Output: OutputConfig{Dir: DefaultOutputDir},
		Log:    LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch {
	case c.Scan.Workers < 0:
		return fmt.Errorf("%w: scan.workers must be >= 0", ErrInvalid)
	case c.Cache.Enabled && c.Cache.Dir == "":
		return fmt.Errorf("%w: cache.dir is required when the cache is enabled", ErrInvalid)
	case c.Cache.MaxAge < 0:
		return fmt.Errorf("%w: cache.max_age must be >= 0", ErrInvalid)
	case c.History.Source != SourceGoGit && c.History.Source != SourceCLI:
		return fmt.Errorf("%w: history.source must be %q or %q, got %q", ErrInvalid, SourceGoGit, SourceCLI, c.History.Source)
	case c.History.MaxCommits < 0:
		return fmt.Errorf("%w: history.max_commits must be >= 0", ErrInvalid)
	case c.History.BatchSize <= 0:
		return fmt.Errorf("%w: history.batch_size must be > 0", ErrInvalid)
	case c.History.Threshold < 0 || c.History.Threshold >= 1:
		return fmt.Errorf("%w: history.threshold must be in [0, 1)", ErrInvalid)
	case c.History.Top < 0:
		return fmt.Errorf("%w: history.top must be >= 0", ErrInvalid)
	case c.Output.Dir == "":
		return fmt.Errorf("%w: output.dir is required", ErrInvalid)
	}
	return nil
}

// Resolve returns p relative to dir unless it is already absolute.
func Resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Save writes c as YAML to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
