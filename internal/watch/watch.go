// Package watch runs a callback when eligible source files under a project
// change, coalescing bursts of events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/Someblueman/codexdoc/internal/classify"
	"github.com/Someblueman/codexdoc/internal/extract"
	"github.com/Someblueman/codexdoc/internal/logging"
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 500 * time.Millisecond

// Handler receives the slash-separated relative paths changed since the last call.
type Handler func(ctx context.Context, changed []string) error

// Watcher watches every non-ignored directory under a root.
type Watcher struct {
	root       string
	handler    Handler
	classifier *classify.Classifier
	fsWatcher  *fsnotify.Watcher
	debounce   time.Duration
	logger     logrus.FieldLogger
	onError    func(error)

	pending map[string]struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithClassifier sets the rules deciding which paths trigger the handler.
func WithClassifier(c *classify.Classifier) Option {
	return func(w *Watcher) { w.classifier = c }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithOnError receives watcher and handler errors. They are logged either way.
func WithOnError(fn func(error)) Option {
	return func(w *Watcher) { w.onError = fn }
}

// New creates a watcher over root and registers its directories.
func New(root string, handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watch: nil handler")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:      abs,
		handler:   handler,
		fsWatcher: fsWatcher,
		debounce:  DefaultDebounce,
		logger:    logging.Discard(),
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.classifier == nil {
		w.classifier = classify.New(classify.Options{Extensions: extract.DefaultRegistry().Extensions()})
	}

	if err := w.addTree(abs); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}
	return w, nil
}

// Close stops delivering events.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

// Run blocks until ctx is cancelled or the underlying watcher closes. The
// handler runs on this goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.record(event) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.report(fmt.Errorf("watch: %w", err))

		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// record adds the event's path to the pending batch when it matters.
func (w *Watcher) record(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.classifier.IsIgnoredDir(info.Name()) {
				return false
			}
			if err := w.addTree(event.Name); err != nil {
				w.report(fmt.Errorf("watch new directory %s: %w", event.Name, err))
			}
			return false
		}
	}

	rel, ok := w.relevant(event.Name)
	if !ok {
		return false
	}
	w.pending[rel] = struct{}{}
	return true
}

// relevant maps an absolute event path to its relative form if the
// classifier accepts it.
func (w *Watcher) relevant(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.classifier.CheckPath(rel) != classify.Eligible {
		return "", false
	}
	return rel, true
}

func (w *Watcher) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	changed := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changed = append(changed, p)
	}
	sort.Strings(changed)
	w.pending = make(map[string]struct{})

	w.logger.WithField("files", len(changed)).Debug("change batch ready")
	if err := w.handler(ctx, changed); err != nil {
		w.report(err)
	}
}

func (w *Watcher) report(err error) {
	w.logger.WithError(err).Warn("watch error")
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.classifier.IsIgnoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}
