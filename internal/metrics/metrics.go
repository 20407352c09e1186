// Package metrics records per-check execution tallies and mirrors them into
// Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Page load statuses used as label values.
const (
	PageLoaded    = "loaded"
	PageSkipped   = "skipped"
	PageLoadError = "load_error"
)

// Counts is the execution tally of one check.
type Counts struct {
	Attempted int
	Passed    int
	Failed    int
	Errored   int
	Skipped   int
}

// Recorder is a concurrency-safe counter set created once per run.
type Recorder struct {
	mu     sync.Mutex
	counts map[string]*Counts

	executions    *prometheus.CounterVec
	results       *prometheus.CounterVec
	pages         *prometheus.CounterVec
	activeWorkers prometheus.Gauge
	rateLimitWait prometheus.Histogram
}

// NewRecorder creates a Recorder and registers its collectors on reg. A nil
// reg keeps the collectors unregistered. Collectors already present on reg
// are reused so several runs can share one registry.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		counts: make(map[string]*Counts),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecheck_check_executions_total",
				Help: "Total number of check evaluations attempted, labeled by check.",
			},
			[]string{"check"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecheck_check_results_total",
				Help: "Total number of check outcomes, labeled by check and result.",
			},
			[]string{"check", "result"},
		),
		pages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitecheck_pages_total",
				Help: "Total number of corpus URLs handled, labeled by status.",
			},
			[]string{"status"},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitecheck_active_workers",
				Help: "Number of workers currently holding a page session.",
			},
		),
		rateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitecheck_rate_limit_delay_seconds",
				Help:    "Histogram of rate limiter permit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}
	if reg == nil {
		return r, nil
	}

	var err error
	if r.executions, err = register(reg, r.executions); err != nil {
		return nil, err
	}
	if r.results, err = register(reg, r.results); err != nil {
		return nil, err
	}
	if r.pages, err = register(reg, r.pages); err != nil {
		return nil, err
	}
	if r.activeWorkers, err = register(reg, r.activeWorkers); err != nil {
		return nil, err
	}
	if r.rateLimitWait, err = register(reg, r.rateLimitWait); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (r *Recorder) entry(check string) *Counts {
	c, ok := r.counts[check]
	if !ok {
		c = &Counts{}
		r.counts[check] = c
	}
	return c
}

// Executed counts one attempted evaluation of check.
func (r *Recorder) Executed(check string) {
	r.mu.Lock()
	r.entry(check).Attempted++
	r.mu.Unlock()
	r.executions.WithLabelValues(check).Inc()
}

// Result counts a conclusive outcome of check.
func (r *Recorder) Result(check string, passed bool) {
	label := "fail"
	r.mu.Lock()
	if passed {
		r.entry(check).Passed++
		label = "pass"
	} else {
		r.entry(check).Failed++
	}
	r.mu.Unlock()
	r.results.WithLabelValues(check, label).Inc()
}

// Errored counts an inconclusive evaluation of check.
func (r *Recorder) Errored(check string) {
	r.mu.Lock()
	r.entry(check).Errored++
	r.mu.Unlock()
	r.results.WithLabelValues(check, "error").Inc()
}

// Skipped counts a check that was not run because of a skip rule.
func (r *Recorder) Skipped(check string) {
	r.mu.Lock()
	r.entry(check).Skipped++
	r.mu.Unlock()
	r.results.WithLabelValues(check, "skipped").Inc()
}

// Page counts a corpus URL by status.
func (r *Recorder) Page(status string) {
	r.pages.WithLabelValues(status).Inc()
}

// WorkerStarted increments the active worker gauge.
func (r *Recorder) WorkerStarted() {
	r.activeWorkers.Inc()
}

// WorkerStopped decrements the active worker gauge.
func (r *Recorder) WorkerStopped() {
	r.activeWorkers.Dec()
}

// ObserveRateLimitDelay records the time spent waiting for a permit.
func (r *Recorder) ObserveRateLimitDelay(d time.Duration) {
	r.rateLimitWait.Observe(d.Seconds())
}

// Counts returns the tally of one check.
func (r *Recorder) Counts(check string) Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counts[check]; ok {
		return *c
	}
	return Counts{}
}

// Snapshot returns a copy of every tally.
func (r *Recorder) Snapshot() map[string]Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Counts, len(r.counts))
	for k, v := range r.counts {
		out[k] = *v
	}
	return out
}

// Checks returns the recorded check keys sorted alphabetically.
func (r *Recorder) Checks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.counts))
	for k := range r.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
