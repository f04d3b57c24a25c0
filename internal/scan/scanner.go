// Package scan walks a project tree and extracts function records from every
// eligible source file in parallel.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Someblueman/codexdoc/internal/cache"
	"github.com/Someblueman/codexdoc/internal/classify"
	"github.com/Someblueman/codexdoc/internal/extract"
	"github.com/Someblueman/codexdoc/internal/function"
	"github.com/Someblueman/codexdoc/internal/logging"
	"github.com/Someblueman/codexdoc/internal/metrics"
)

// FileError records a file that could not be read or parsed cleanly.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e FileError) Unwrap() error { return e.Err }

// Result is the outcome of one scan.
type Result struct {
	Functions    []function.Record
	Files        int // eligible files handed to an extractor
	Skipped      int // files rejected by the classifier
	CacheHits    int
	Errors       []FileError
	Declarations map[string][]extract.Declaration // by slash-separated relative path
}

// ProgressFunc is called after each candidate file finishes. It may be called
// from several goroutines at once.
type ProgressFunc func(done, total int)

// Scanner extracts function records from a directory tree.
type Scanner struct {
	registry   *extract.Registry
	classifier *classify.Classifier
	cache      *cache.Cache
	workers    int
	logger     logrus.FieldLogger
	metrics    *metrics.Recorder
	progress   ProgressFunc
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithRegistry replaces the default extractor registry.
func WithRegistry(r *extract.Registry) Option {
	return func(s *Scanner) { s.registry = r }
}

// WithClassifier replaces the classifier. Without one, the scanner builds a
// classifier restricted to the registry's extensions.
func WithClassifier(c *classify.Classifier) Option {
	return func(s *Scanner) { s.classifier = c }
}

// WithCache enables incremental extraction.
func WithCache(c *cache.Cache) Option {
	return func(s *Scanner) { s.cache = c }
}

// WithWorkers bounds parallel extraction. Zero or less means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scanner) { s.workers = n }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records scan counters and durations.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithProgress is called after each file is extracted.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) { s.progress = fn }
}

// New returns a Scanner with the given options applied.
func New(opts ...Option) *Scanner {
	s := &Scanner{logger: logging.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = extract.DefaultRegistry()
	}
	if s.classifier == nil {
		s.classifier = classify.New(classify.Options{Extensions: s.registry.Extensions()})
	}
	if s.workers <= 0 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	return s
}

// Registry returns the registry the scanner dispatches to.
func (s *Scanner) Registry() *extract.Registry { return s.registry }

// Classifier returns the classifier the scanner applies.
func (s *Scanner) Classifier() *classify.Classifier { return s.classifier }

// Scan indexes root and extracts every eligible file. Per-file failures are
// collected in Result.Errors; only cancellation and walk failures are returned.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	idx, err := BuildFileIndex(ctx, root, s.classifier)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return s.scanIndex(ctx, idx)
}

// slot is written by exactly one worker.
type slot struct {
	file     FileRecord
	skipped  bool
	cacheHit bool
	result   extract.Result
	err      error
}

func (s *Scanner) scanIndex(ctx context.Context, idx *FileIndex) (*Result, error) {
	res := &Result{Declarations: make(map[string][]extract.Declaration)}
	for _, fe := range idx.Errors {
		s.logger.WithError(fe.Err).WithField("path", fe.Path).Warn("entry unreadable, skipped")
		res.Errors = append(res.Errors, fe)
	}

	var candidates []FileRecord
	for _, f := range idx.Files {
		if reason := s.classifier.CheckPath(f.RelPath); reason != classify.Eligible {
			res.Skipped++
			s.metrics.FileSkipped(string(reason))
			continue
		}
		if _, ok := s.registry.Resolve(f.RelPath); !ok {
			res.Skipped++
			s.metrics.FileSkipped(string(classify.Unsupported))
			continue
		}
		candidates = append(candidates, f)
	}

	s.logger.WithFields(logrus.Fields{
		"root":       idx.Root,
		"candidates": len(candidates),
		"workers":    s.workers,
	}).Debug("scanning files")

	slots := make([]slot, len(candidates))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = s.processFile(candidates[i])
			if s.progress != nil {
				s.progress(int(done.Add(1)), len(candidates))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := function.NewSet()
	for _, sl := range slots {
		switch {
		case sl.skipped:
			res.Skipped++
			continue
		case sl.err != nil:
			res.Errors = append(res.Errors, FileError{Path: sl.file.RelPath, Err: sl.err})
			s.logger.WithError(sl.err).WithField("path", sl.file.RelPath).Warn("file failed")
			if len(sl.result.Declarations) == 0 {
				continue
			}
		}

		res.Files++
		if sl.cacheHit {
			res.CacheHits++
		}
		for _, rec := range sl.result.Records() {
			set.Add(rec)
		}
		if len(sl.result.Declarations) > 0 {
			res.Declarations[sl.file.RelPath] = sl.result.Declarations
		}
	}

	res.Functions = set.Sorted()
	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Path < res.Errors[j].Path })
	s.metrics.SetFunctions(len(res.Functions))

	s.logger.WithFields(logrus.Fields{
		"files":     res.Files,
		"skipped":   res.Skipped,
		"functions": len(res.Functions),
		"cacheHits": res.CacheHits,
		"errors":    len(res.Errors),
	}).Info("scan complete")
	return res, nil
}

func (s *Scanner) processFile(f FileRecord) slot {
	sl := slot{file: f}

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		sl.err = fmt.Errorf("read file: %w", err)
		return sl
	}

	if reason := classify.CheckContent(content); reason != classify.Eligible {
		sl.skipped = true
		s.metrics.FileSkipped(string(reason))
		return sl
	}
	s.metrics.FileScanned()

	if s.cache != nil {
		if cached, ok := s.cache.Get(f.RelPath, content); ok {
			s.metrics.CacheHit()
			sl.cacheHit = true
			sl.result = cached
		} else {
			s.metrics.CacheMiss()
		}
	}

	if !sl.cacheHit {
		result, err := s.registry.Extract(f.RelPath, content)
		if err != nil {
			sl.err = err
			return sl
		}
		sl.result = result
		if s.cache != nil {
			if err := s.cache.Put(f.RelPath, content, result); err != nil {
				s.logger.WithError(err).WithField("path", f.RelPath).Debug("cache write failed")
			}
		}
	}

	if len(sl.result.Errors) > 0 {
		s.metrics.ParseError(sl.result.Language)
		sl.err = fmt.Errorf("parse: %w", errors.New(sl.result.Errors[0]))
	}
	return sl
}
