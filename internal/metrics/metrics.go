// Package metrics counts scan and history work in a private Prometheus
// registry and dumps it in the node-exporter textfile format.
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "codexdoc"

// Recorder holds the run counters.
type Recorder struct {
	registry *prometheus.Registry

	filesScanned   prometheus.Counter
	filesSkipped   *prometheus.CounterVec
	parseErrors    *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	commits        prometheus.Counter
	blobSkips      prometheus.Counter
	functionsFound prometheus.Gauge
}

// New registers the counters on a fresh registry so repeated runs in one
// process never collide.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		filesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scan", Name: "files_total",
			Help: "Files read and handed to an extractor.",
		}),
		filesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scan", Name: "files_skipped_total",
			Help: "Files rejected by the classifier, by reason.",
		}, []string{"reason"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scan", Name: "parse_errors_total",
			Help: "Files whose extraction reported errors, by language.",
		}, []string{"language"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "lookups_total",
			Help: "Cache lookups by result.",
		}, []string{"result"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "commits_total",
			Help: "Commits replayed by the history analyzer.",
		}),
		blobSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "history", Name: "blob_skips_total",
			Help: "Changed files skipped because their blob was unreadable or unsupported.",
		}),
		functionsFound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scan", Name: "functions",
			Help: "Distinct function records produced by the last scan.",
		}),
	}
	r.registry.MustRegister(
		r.filesScanned, r.filesSkipped, r.parseErrors,
		r.cacheLookups, r.commits, r.blobSkips, r.functionsFound,
	)
	return r
}

func (r *Recorder) FileScanned() {
	if r != nil {
		r.filesScanned.Inc()
	}
}

func (r *Recorder) FileSkipped(reason string) {
	if r != nil {
		r.filesSkipped.WithLabelValues(reason).Inc()
	}
}

func (r *Recorder) ParseError(language string) {
	if r != nil {
		r.parseErrors.WithLabelValues(language).Inc()
	}
}

func (r *Recorder) CacheHit() {
	if r != nil {
		r.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (r *Recorder) CacheMiss() {
	if r != nil {
		r.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (r *Recorder) CommitReplayed() {
	if r != nil {
		r.commits.Inc()
	}
}

func (r *Recorder) BlobSkipped() {
	if r != nil {
		r.blobSkips.Inc()
	}
}

func (r *Recorder) SetFunctions(n int) {
	if r != nil {
		r.functionsFound.Set(float64(n))
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// WriteTextfile writes every metric to path atomically. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
