package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Someblueman/codexdoc/internal/cache"
	"github.com/Someblueman/codexdoc/internal/config"
	"github.com/Someblueman/codexdoc/internal/history"
	"github.com/Someblueman/codexdoc/internal/render"
	"github.com/Someblueman/codexdoc/internal/scan"
	"github.com/Someblueman/codexdoc/internal/store"
	"github.com/Someblueman/codexdoc/internal/watch"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
)

func (a *app) initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName,
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := filepath.Join(a.dir, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func (a *app) scanCommand() *cobra.Command {
	var asJSON, noProgress bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Extract function records from the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var progress scan.ProgressFunc
			if !asJSON && !noProgress {
				progress = a.progressBar("Scanning")
			}
			res, err := a.runScan(cmd.Context(), progress)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, res.Functions)
			}
			a.printScan(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the function records as JSON")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	var (
		asJSON  bool
		source  string
		precise bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Analyze function-level change history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.runHistory(cmd.Context(), source, precise)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, res)
			}
			a.printHistory(res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full analytics result as JSON")
	cmd.Flags().StringVar(&source, "source", "", "history source: gogit or cli (default from config)")
	cmd.Flags().BoolVar(&precise, "precise", false, "attribute only functions whose lines changed")
	return cmd
}

func (a *app) generateCommand() *cobra.Command {
	var sqlitePath string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write function pages and analytics pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.generate(cmd.Context(), sqlitePath)
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "also export records and analytics to this SQLite file")
	return cmd
}

func (a *app) updateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Rewrite function pages only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.runScan(cmd.Context(), nil)
			if err != nil {
				return err
			}
			summary, err := a.writeFunctionPages(res)
			if err != nil {
				return err
			}
			a.printSummary(summary)
			return nil
		},
	}
}

func (a *app) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clean the extraction cache",
	}

	var maxAge time.Duration
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove entries not refreshed within --max-age",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c, err := a.openCacheForMaintenance()
			if err != nil {
				return err
			}
			defer c.Close()

			age := a.cfg.Cache.MaxAge
			if maxAge > 0 {
				age = maxAge
			}
			removed, err := c.Sweep(age)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Removed %s cache entries older than %s\n", humanize.Comma(int64(removed)), age)
			return nil
		},
	}
	clean.Flags().DurationVar(&maxAge, "max-age", 0, "maximum entry age (default cache.max_age)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c, err := a.openCacheForMaintenance()
			if err != nil {
				return err
			}
			defer c.Close()

			entries, blobs, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Cache: %s\nEntries: %s\nBlobs: %s\n",
				c.Dir(), humanize.Comma(int64(entries)), humanize.Comma(int64(blobs)))
			return nil
		},
	}

	cmd.AddCommand(clean, stats)
	return cmd
}

func (a *app) openCacheForMaintenance() (*cache.Cache, error) {
	return cache.Open(config.Resolve(a.dir, a.cfg.Cache.Dir),
		cache.WithLogger(a.logger.WithField("component", "cache")))
}

func (a *app) watchCommand() *cobra.Command {
	var (
		debounce   time.Duration
		sqlitePath string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run generate, then again on every source change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.generate(ctx, sqlitePath); err != nil {
				return err
			}

			reg, err := a.registry()
			if err != nil {
				return err
			}
			w, err := watch.New(a.dir, func(ctx context.Context, changed []string) error {
				a.logger.WithField("files", len(changed)).Info("sources changed, regenerating")
				return a.generate(ctx, sqlitePath)
			},
				watch.WithDebounce(debounce),
				watch.WithClassifier(a.classifier(reg)),
				watch.WithLogger(a.logger.WithField("component", "watch")),
			)
			if err != nil {
				return err
			}
			defer w.Close()

			cyan.Fprintf(a.stdout, "Watching %s (Ctrl-C to stop)\n", a.dir)
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before regenerating")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "also export to this SQLite file on every run")
	return cmd
}

// generate scans, analyzes history when a repository exists, and writes every page.
func (a *app) generate(ctx context.Context, sqlitePath string) error {
	res, err := a.runScan(ctx, nil)
	if err != nil {
		return err
	}
	hist, err := a.optionalHistory(ctx)
	if err != nil {
		return err
	}

	summary, err := a.writeFunctionPages(res)
	if err != nil {
		return err
	}
	a.printSummary(summary)

	outDir := a.outputDir()
	if hist != nil {
		if err := render.WriteAnalyticsPages(outDir, hist, a.cfg.History.Threshold, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "Analytics: %s commits, %s functions with history\n",
			humanize.Comma(int64(hist.Stats.CommitsProcessed)), humanize.Comma(int64(hist.TotalFunctions)))
	}

	if sqlitePath == "" {
		sqlitePath = a.cfg.Output.SQLite
	}
	if sqlitePath != "" {
		sqlitePath = config.Resolve(a.dir, sqlitePath)
		if err := store.Export(ctx, sqlitePath, res.Functions, hist); err != nil {
			return fmt.Errorf("export sqlite: %w", err)
		}
		fmt.Fprintf(a.stdout, "Exported %s\n", sqlitePath)
	}
	return nil
}

func (a *app) writeFunctionPages(res *scan.Result) (render.Summary, error) {
	outDir := a.outputDir()
	summary, err := render.WriteFunctionPages(outDir, res.Functions)
	if err != nil {
		return summary, err
	}
	removed, err := render.RemoveStalePages(outDir, render.PageNames(res.Functions))
	if err != nil {
		return summary, fmt.Errorf("remove stale pages: %w", err)
	}
	if len(removed) > 0 {
		a.logger.WithField("pages", len(removed)).Info("removed stale function pages")
	}
	return summary, nil
}

func (a *app) progressBar(label string) scan.ProgressFunc {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(a.stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(a.stderr) }),
			)
		}
		_ = bar.Set(done)
	}
}

func (a *app) printScan(res *scan.Result) {
	if len(res.Functions) == 0 {
		yellow.Fprintln(a.stdout, "No functions found.")
	} else {
		fmt.Fprintf(a.stdout, "Found %s functions in %s files (%s cached, %s skipped)\n",
			humanize.Comma(int64(len(res.Functions))), humanize.Comma(int64(res.Files)),
			humanize.Comma(int64(res.CacheHits)), humanize.Comma(int64(res.Skipped)))
	}
	for _, fe := range res.Errors {
		yellow.Fprintf(a.stdout, "  warning: %v\n", fe)
	}
}

func (a *app) printHistory(res *history.Result) {
	if res.Stats.CommitsTotal == 0 {
		yellow.Fprintln(a.stdout, "No commits to analyze.")
		return
	}
	fmt.Fprintf(a.stdout, "Analyzed %s commits (%s merges, %s files skipped): %s functions changed\n\n",
		humanize.Comma(int64(res.Stats.CommitsProcessed)), humanize.Comma(int64(res.Stats.MergeCommits)),
		humanize.Comma(int64(res.Stats.SkippedFiles)), humanize.Comma(int64(res.TotalFunctions)))

	hotspots := table.NewWriter()
	hotspots.SetOutputMirror(a.stdout)
	hotspots.SetStyle(table.StyleLight)
	hotspots.SetTitle("Hotspots")
	hotspots.AppendHeader(table.Row{"#", "Function", "Score", "Changes", "Co-change degree", "Last modified"})
	for i, h := range topN(res.Hotspots, a.cfg.History.Top) {
		hotspots.AppendRow(table.Row{i + 1, h.Name, fmt.Sprintf("%.2f", h.Score), h.ChangeCount, h.CoChangeDegree, humanize.Time(h.LastModified)})
	}
	hotspots.Render()
	fmt.Fprintln(a.stdout)

	if len(res.Dependencies) == 0 {
		fmt.Fprintln(a.stdout, "No co-change links above the threshold.")
		return
	}
	links := table.NewWriter()
	links.SetOutputMirror(a.stdout)
	links.SetStyle(table.StyleLight)
	links.SetTitle("Co-change links")
	links.AppendHeader(table.Row{"Source", "Target", "Shared commits", "Confidence"})
	for _, l := range topN(res.Dependencies, a.cfg.History.Top) {
		links.AppendRow(table.Row{l.Source, l.Target, l.ChangeCount, fmt.Sprintf("%.0f%%", l.Confidence*100)})
	}
	links.AppendFooter(table.Row{"", "", "Total", len(res.Dependencies)})
	links.Render()
}

func (a *app) printSummary(s render.Summary) {
	green.Fprintf(a.stdout, "Added: %d\n", len(s.Added))
	yellow.Fprintf(a.stdout, "Updated: %d\n", len(s.Updated))
	fmt.Fprintf(a.stdout, "Unchanged: %d\n", len(s.Unchanged))
	if len(s.Errors) > 0 {
		red.Fprintf(a.stdout, "Errors: %d\n", len(s.Errors))
		for _, e := range s.Errors {
			red.Fprintf(a.stdout, "  %s\n", e)
		}
	}
}

func topN[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
