// Package history replays a repository's commits through the extractors to
// attribute changes to function names and derive co-change analytics.
package history

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Someblueman/codexdoc/internal/classify"
	"github.com/Someblueman/codexdoc/internal/extract"
	"github.com/Someblueman/codexdoc/internal/logging"
	"github.com/Someblueman/codexdoc/internal/metrics"
)

const (
	DefaultBatchSize = 100
	DefaultTop       = 10
)

// Analyzer computes change analytics for one Source.
type Analyzer struct {
	source      Source
	registry    *extract.Registry
	classifier  *classify.Classifier
	threshold   float64
	batchSize   int
	workers     int
	maxCommits  int
	top         int
	precise     bool
	trackedOnly bool
	now         func() time.Time
	logger      logrus.FieldLogger
	metrics     *metrics.Recorder
	progress    func(done, total int)
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRegistry replaces the default extractor registry.
func WithRegistry(r *extract.Registry) Option { return func(a *Analyzer) { a.registry = r } }

// WithClassifier filters which paths are replayed.
func WithClassifier(c *classify.Classifier) Option { return func(a *Analyzer) { a.classifier = c } }

// WithThreshold sets the minimum confidence a link must exceed.
func WithThreshold(t float64) Option { return func(a *Analyzer) { a.threshold = t } }

// WithBatchSize sets how many commits a worker extracts per batch.
func WithBatchSize(n int) Option { return func(a *Analyzer) { a.batchSize = n } }

// WithWorkers bounds parallel extraction. Zero or less means GOMAXPROCS.
func WithWorkers(n int) Option { return func(a *Analyzer) { a.workers = n } }

// WithMaxCommits limits the replay to the newest n commits. Zero means all.
func WithMaxCommits(n int) Option { return func(a *Analyzer) { a.maxCommits = n } }

// WithTop bounds FrequentlyChanged and Impactful. Zero means unbounded.
func WithTop(n int) Option { return func(a *Analyzer) { a.top = n } }

// WithPrecise attributes a change only to functions whose lines the diff touches.
func WithPrecise(on bool) Option { return func(a *Analyzer) { a.precise = on } }

// WithTrackedOnly drops names that no longer exist at the newest commit.
func WithTrackedOnly(on bool) Option { return func(a *Analyzer) { a.trackedOnly = on } }

// WithClock overrides the clock used for Result.GeneratedAt.
func WithClock(now func() time.Time) Option { return func(a *Analyzer) { a.now = now } }

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records replay counters and durations.
func WithMetrics(m *metrics.Recorder) Option { return func(a *Analyzer) { a.metrics = m } }

// WithProgress reports replayed commits. It is called from the merging goroutine.
func WithProgress(fn func(done, total int)) Option { return func(a *Analyzer) { a.progress = fn } }

// NewAnalyzer returns an Analyzer reading from src.
func NewAnalyzer(src Source, opts ...Option) *Analyzer {
	a := &Analyzer{
		source:    src,
		threshold: DefaultThreshold,
		batchSize: DefaultBatchSize,
		top:       DefaultTop,
		now:       time.Now,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = extract.DefaultRegistry()
	}
	if a.classifier == nil {
		a.classifier = classify.New(classify.Options{Extensions: a.registry.Extensions()})
	}
	if a.batchSize <= 0 {
		a.batchSize = DefaultBatchSize
	}
	if a.workers <= 0 {
		a.workers = runtime.GOMAXPROCS(0)
	}
	return a
}

// commitChanges is the fully computed effect of one commit.
type commitChanges struct {
	commit  Commit
	names   []string            // sorted
	files   map[string][]string // name -> files it was found in
	skipped int
	parsed  int
}

// Analyze replays the history and derives every analytic.
func (a *Analyzer) Analyze(ctx context.Context) (*Result, error) {
	commits, err := a.source.Commits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	if a.maxCommits > 0 && len(commits) > a.maxCommits {
		commits = commits[:a.maxCommits]
	}

	res := &Result{
		Functions:         make(map[string]*ChangeRecord),
		Dependencies:      []DependencyLink{},
		Timeline:          []TimelineEntry{},
		Hotspots:          []Hotspot{},
		FrequentlyChanged: []*ChangeRecord{},
		Impactful:         []Impact{},
		Graph:             DependencyGraph{},
		GeneratedAt:       a.now().UTC(),
	}
	res.Stats.CommitsTotal = len(commits)
	if len(commits) == 0 {
		a.logger.Info("no commits to analyze")
		return res, nil
	}

	snap, tracked, err := a.indexSnapshot(ctx, commits[0].Hash)
	if err != nil {
		return nil, err
	}
	res.Graph = snap.graph
	res.Stats.TrackedFiles = tracked

	// git log is newest-first; replay oldest-first so the last write wins.
	ordered := make([]Commit, len(commits))
	for i, c := range commits {
		ordered[len(commits)-1-i] = c
	}

	a.logger.WithFields(logrus.Fields{
		"commits":   len(ordered),
		"functions": len(snap.files),
		"batch":     a.batchSize,
		"precise":   a.precise,
	}).Debug("replaying history")

	for start := 0; start < len(ordered); start += a.batchSize {
		end := min(start+a.batchSize, len(ordered))
		batch, err := a.prefetch(ctx, ordered[start:end], snap)
		if err != nil {
			return nil, err
		}
		for _, cc := range batch {
			a.apply(res, cc)
			a.metrics.CommitReplayed()
			if a.progress != nil {
				a.progress(res.Stats.CommitsProcessed, len(ordered))
			}
		}
	}

	now := a.now()
	res.Dependencies = deriveLinks(res.Functions, a.threshold)
	res.Timeline = deriveTimeline(res.Functions)
	res.Hotspots = deriveHotspots(res.Functions, now)
	res.FrequentlyChanged = frequentlyChanged(res.Functions, a.top)
	res.Impactful = impactful(res.Functions, res.Graph, a.top)
	res.TotalFunctions = len(res.Functions)

	a.logger.WithFields(logrus.Fields{
		"commits":   res.Stats.CommitsProcessed,
		"functions": res.TotalFunctions,
		"links":     len(res.Dependencies),
		"skipped":   res.Stats.SkippedFiles,
	}).Info("history analysis complete")
	return res, nil
}

func (a *Analyzer) supported(path string) bool {
	if a.classifier.CheckPath(path) != classify.Eligible {
		return false
	}
	_, ok := a.registry.Resolve(path)
	return ok
}

// indexSnapshot extracts every supported tracked file at hash.
func (a *Analyzer) indexSnapshot(ctx context.Context, hash string) (*snapshot, int, error) {
	files, err := a.source.TrackedFiles(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list tracked files: %w", err)
	}

	var paths []string
	for _, f := range files {
		if a.supported(f) {
			paths = append(paths, f)
		}
	}

	results := make([][]extract.Declaration, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, path := range paths {
		g.Go(func() error {
			content, err := a.source.FileAt(gctx, hash, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				a.logger.WithError(err).WithField("path", path).Debug("snapshot blob unavailable")
				return nil
			}
			if classify.CheckContent(content) != classify.Eligible {
				return nil
			}
			extracted, err := a.registry.Extract(path, content)
			if err != nil {
				return nil
			}
			results[i] = extracted.Declarations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	decls := make(map[string][]extract.Declaration, len(paths))
	for i, path := range paths {
		if len(results[i]) > 0 {
			decls[path] = results[i]
		}
	}
	return buildSnapshot(decls), len(paths), nil
}

// prefetch computes the affected names of every commit in batch concurrently.
func (a *Analyzer) prefetch(ctx context.Context, batch []Commit, snap *snapshot) ([]commitChanges, error) {
	out := make([]commitChanges, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, c := range batch {
		g.Go(func() error {
			cc, err := a.changesFor(gctx, c, snap)
			if err != nil {
				return err
			}
			out[i] = cc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Analyzer) changesFor(ctx context.Context, c Commit, snap *snapshot) (commitChanges, error) {
	cc := commitChanges{commit: c, files: make(map[string][]string)}

	for _, path := range c.Files {
		if !a.supported(path) {
			continue
		}
		content, err := a.source.FileAt(ctx, c.Hash, path)
		if err != nil {
			if ctx.Err() != nil {
				return cc, ctx.Err()
			}
			// Deleted in this commit or unreadable.
			cc.skipped++
			continue
		}
		if classify.CheckContent(content) != classify.Eligible {
			continue
		}
		extracted, err := a.registry.Extract(path, content)
		if err != nil {
			cc.skipped++
			continue
		}
		cc.parsed++

		touched := a.touched(ctx, c, path, content, extracted)
		for _, d := range extracted.Declarations {
			name := d.Record.Name
			if touched != nil {
				if _, ok := touched[name]; !ok {
					continue
				}
			}
			if a.trackedOnly && !snap.has(name) {
				continue
			}
			files := cc.files[name]
			if len(files) == 0 || files[len(files)-1] != path {
				cc.files[name] = append(files, path)
			}
		}
	}

	cc.names = make([]string, 0, len(cc.files))
	for name := range cc.files {
		cc.names = append(cc.names, name)
	}
	sort.Strings(cc.names)
	return cc, nil
}

// touched returns the names the diff against the first parent reaches, or
// nil when every declaration counts.
func (a *Analyzer) touched(ctx context.Context, c Commit, path string, content []byte, after extract.Result) map[string]struct{} {
	if !a.precise || len(c.Parents) == 0 {
		return nil
	}
	prev, err := a.source.FileAt(ctx, c.Parents[0], path)
	if err != nil {
		if !errors.Is(err, ErrFileNotFound) {
			a.logger.WithError(err).WithField("path", path).Debug("parent blob unavailable")
		}
		return nil
	}
	before, err := a.registry.Extract(path, prev)
	if err != nil {
		return nil
	}
	return touchedNames(before.Declarations, after.Declarations, diffLines(prev, content))
}

// apply merges one commit's changes. It runs on a single goroutine, in order.
func (a *Analyzer) apply(res *Result, cc commitChanges) {
	res.Stats.CommitsProcessed++
	res.Stats.SkippedFiles += cc.skipped
	res.Stats.FilesExtracted += cc.parsed
	if cc.commit.IsMerge() {
		res.Stats.MergeCommits++
	}
	for i := 0; i < cc.skipped; i++ {
		a.metrics.BlobSkipped()
	}
	if len(cc.names) == 0 {
		return
	}

	ref := CommitRef{Hash: cc.commit.Hash, Timestamp: cc.commit.Timestamp, Message: cc.commit.Message}
	for _, name := range cc.names {
		rec, ok := res.Functions[name]
		if !ok {
			rec = &ChangeRecord{Name: name, CoChanges: make(map[string]*CoChange)}
			res.Functions[name] = rec
		}
		rec.ChangeCount++
		rec.LastModified = cc.commit.Timestamp
		rec.Commits = append(rec.Commits, ref)
		for _, path := range cc.files[name] {
			rec.addFile(path)
		}
	}

	for _, name := range cc.names {
		rec := res.Functions[name]
		for _, other := range cc.names {
			if other == name {
				continue
			}
			co, ok := rec.CoChanges[other]
			if !ok {
				co = &CoChange{}
				rec.CoChanges[other] = co
			}
			co.Count++
			co.Commits = append(co.Commits, ref)
		}
	}
}
