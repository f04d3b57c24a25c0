package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Someblueman/codexdoc/internal/cache"
	"github.com/Someblueman/codexdoc/internal/classify"
	"github.com/Someblueman/codexdoc/internal/config"
	"github.com/Someblueman/codexdoc/internal/extract"
	"github.com/Someblueman/codexdoc/internal/history"
	"github.com/Someblueman/codexdoc/internal/scan"
)

func (a *app) registry() (*extract.Registry, error) {
	reg, err := extract.DefaultRegistry().Only(a.cfg.Scan.Languages)
	if err != nil {
		return nil, fmt.Errorf("%w: scan.languages: %v", config.ErrInvalid, err)
	}
	return reg, nil
}

func (a *app) classifier(reg *extract.Registry) *classify.Classifier {
	excludeDirs := append([]string(nil), a.cfg.Scan.ExcludeDirs...)
	if a.cfg.Cache.Enabled {
		excludeDirs = append(excludeDirs, filepath.Base(a.cfg.Cache.Dir))
	}
	return classify.New(classify.Options{
		Extensions:   reg.Extensions(),
		ExcludeDirs:  excludeDirs,
		Exclude:      a.cfg.Scan.Exclude,
		StrictVendor: a.cfg.Scan.StrictVendor,
	})
}

// openCache returns nil when the cache is disabled.
func (a *app) openCache() (*cache.Cache, error) {
	if !a.cfg.Cache.Enabled {
		return nil, nil
	}
	return cache.Open(config.Resolve(a.dir, a.cfg.Cache.Dir),
		cache.WithLogger(a.logger.WithField("component", "cache")))
}

// runScan scans the project directory. progress may be nil.
func (a *app) runScan(ctx context.Context, progress scan.ProgressFunc) (*scan.Result, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	c, err := a.openCache()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	opts := []scan.Option{
		scan.WithRegistry(reg),
		scan.WithClassifier(a.classifier(reg)),
		scan.WithWorkers(a.cfg.Scan.Workers),
		scan.WithLogger(a.logger.WithField("component", "scan")),
		scan.WithMetrics(a.metrics),
		scan.WithProgress(progress),
	}
	if c != nil {
		opts = append(opts, scan.WithCache(c))
	}
	return scan.New(opts...).Scan(ctx, a.dir)
}

func (a *app) openSource(ctx context.Context, kind string) (history.Source, error) {
	switch kind {
	case config.SourceCLI:
		return history.NewCLISource(ctx, a.dir)
	case config.SourceGoGit:
		return history.OpenGoGit(a.dir)
	default:
		return nil, fmt.Errorf("%w: unknown history source %q", config.ErrInvalid, kind)
	}
}

// runHistory analyzes the project's repository with the configured source.
// sourceKind overrides history.source when non-empty.
func (a *app) runHistory(ctx context.Context, sourceKind string, precise bool) (*history.Result, error) {
	if sourceKind == "" {
		sourceKind = a.cfg.History.Source
	}
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	src, err := a.openSource(ctx, sourceKind)
	if err != nil {
		return nil, err
	}

	h := a.cfg.History
	analyzer := history.NewAnalyzer(src,
		history.WithRegistry(reg),
		history.WithClassifier(a.classifier(reg)),
		history.WithThreshold(h.Threshold),
		history.WithBatchSize(h.BatchSize),
		history.WithWorkers(a.cfg.Scan.Workers),
		history.WithMaxCommits(h.MaxCommits),
		history.WithTop(h.Top),
		history.WithPrecise(h.Precise || precise),
		history.WithTrackedOnly(h.TrackedOnly),
		history.WithLogger(a.logger.WithField("component", "history")),
		history.WithMetrics(a.metrics),
	)
	return analyzer.Analyze(ctx)
}

// optionalHistory is runHistory that treats a missing repository as no history.
func (a *app) optionalHistory(ctx context.Context) (*history.Result, error) {
	res, err := a.runHistory(ctx, "", false)
	if errors.Is(err, history.ErrNoRepository) {
		a.logger.WithField("dir", a.dir).Warn("not a git repository, skipping history analytics")
		return nil, nil
	}
	return res, err
}
