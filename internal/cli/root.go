// Package cli wires the codexdoc commands.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Someblueman/codexdoc/internal/config"
	"github.com/Someblueman/codexdoc/internal/logging"
	"github.com/Someblueman/codexdoc/internal/metrics"
)

// app carries the state resolved by the root command for its subcommands.
type app struct {
	dir         string
	configPath  string
	logLevel    string
	metricsFile string

	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Recorder

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the codexdoc command tree.
func NewRootCommand() *cobra.Command {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "codexdoc",
		Short: "Extract function documentation and change analytics from a codebase",
		Long: `codexdoc scans a project for function declarations across languages,
writes one markdown page per function, and replays the git history to find
which functions change often and which change together.

Commands:
  init      Write a default .codexdoc.yaml
  scan      Extract function records
  history   Analyze function-level change history
  generate  Write function and analytics pages
  update    Rewrite function pages only
  cache     Inspect or clean the extraction cache
  watch     Regenerate on every source change`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.metrics.WriteTextfile(a.metricsFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.dir, "dir", "d", ".", "project directory")
	flags.StringVar(&a.configPath, "config", "", "config file (default <dir>/.codexdoc.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	root.AddCommand(
		a.initCommand(),
		a.scanCommand(),
		a.historyCommand(),
		a.generateCommand(),
		a.updateCommand(),
		a.cacheCommand(),
		a.watchCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()

	dir, err := filepath.Abs(a.dir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("project dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project dir %s is not a directory", dir)
	}
	a.dir = dir

	cfg, err := config.Load(dir, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logger, err := logging.New(level, cfg.Log.Format, a.stderr)
	if err != nil {
		return err
	}
	a.logger = logger

	if a.metricsFile == "" {
		a.metricsFile = config.Resolve(dir, cfg.Metrics.File)
	} else {
		a.metricsFile = config.Resolve(dir, a.metricsFile)
	}
	if a.metricsFile != "" {
		a.metrics = metrics.New()
	}

	logger.WithFields(logrus.Fields{
		"dir":    dir,
		"source": cfg.History.Source,
		"cache":  cfg.Cache.Enabled,
	}).Debug("configuration loaded")
	return nil
}

func (a *app) outputDir() string {
	return config.Resolve(a.dir, a.cfg.Output.Dir)
}
