package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configName      = ".codexdoc"
	configType      = "yaml"
	envPrefix       = "CODEXDOC"
	envKeySeparator = "_"
)

// FileName is the config file written by codexdoc init.
const FileName = configName + "." + configType

// Load reads configuration for the project in dir. When configPath is
// non-empty it names the config file explicitly; otherwise dir/.codexdoc.yaml
// is used if present. A .env file in dir is loaded first without overriding
// variables already set.
func Load(dir, configPath string) (*Config, error) {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("scan.workers", d.Scan.Workers)
	v.SetDefault("scan.exclude", d.Scan.Exclude)
	v.SetDefault("scan.exclude_dirs", d.Scan.ExcludeDirs)
	v.SetDefault("scan.strict_vendor", d.Scan.StrictVendor)
	v.SetDefault("scan.languages", d.Scan.Languages)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.max_age", d.Cache.MaxAge)

	v.SetDefault("history.source", d.History.Source)
	v.SetDefault("history.max_commits", d.History.MaxCommits)
	v.SetDefault("history.batch_size", d.History.BatchSize)
	v.SetDefault("history.threshold", d.History.Threshold)
	v.SetDefault("history.precise", d.History.Precise)
	v.SetDefault("history.tracked_only", d.History.TrackedOnly)
	v.SetDefault("history.top", d.History.Top)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.sqlite", d.Output.SQLite)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.file", d.Metrics.File)
}
