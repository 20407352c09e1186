// Package dispatcher fans a corpus out to a pool of workers and aggregates
// their results into one run verdict.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
	"github.com/JakeFAU/sitecheck/internal/corpus"
	"github.com/JakeFAU/sitecheck/internal/metrics"
	"github.com/JakeFAU/sitecheck/internal/policy/skip"
	"github.com/JakeFAU/sitecheck/internal/report"
	"github.com/JakeFAU/sitecheck/internal/site"
	"github.com/JakeFAU/sitecheck/internal/worker"
)

// ErrNoSessions is returned when no worker could open a page session.
var ErrNoSessions = errors.New("no worker could open a page session")

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls a run.
type Config struct {
	Scenario string
	// Workers is the pool size. Zero selects runtime.NumCPU().
	Workers int
	Parse   site.Options
	// Registerer receives the run's Prometheus collectors. Nil keeps them private.
	Registerer prometheus.Registerer
}

// Dispatcher runs one scenario's checks across a corpus.
type Dispatcher struct {
	cfg      Config
	sessions browser.Factory
	checks   []checks.Check
	policy   *skip.Policy
	clock    worker.Clock
	ids      IDGenerator
	logger   *zap.Logger
}

// New creates a Dispatcher. Category exemptions declared by the checks are
// merged into policy.
func New(
	cfg Config,
	sessions browser.Factory,
	selected []checks.Check,
	policy *skip.Policy,
	clock worker.Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = skip.New(skip.Config{})
	}
	for _, c := range selected {
		if ex, ok := c.(checks.Exempter); ok {
			policy.Exempt(string(c.Key()), ex.ExemptPatterns()...)
		}
	}
	return &Dispatcher{
		cfg:      cfg,
		sessions: sessions,
		checks:   selected,
		policy:   policy,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// Result is the state of a finished run.
type Result struct {
	RunID      string
	Scenario   string
	StartedAt  time.Time
	FinishedAt time.Time
	URLs       int
	Workers    int
	Stats      worker.Stats
	Unserved   int
	Failures   *report.Failures
	Recorder   *metrics.Recorder
}

// Summary converts r into a renderable report summary.
func (r Result) Summary() report.Summary {
	counts := make(map[string]report.CheckCounts)
	if r.Recorder != nil {
		for k, c := range r.Recorder.Snapshot() {
			counts[k] = report.CheckCounts{
				Attempted: c.Attempted,
				Passed:    c.Passed,
				Failed:    c.Failed,
				Errored:   c.Errored,
				Skipped:   c.Skipped,
			}
		}
	}
	var groups []report.Group
	if r.Failures != nil {
		groups = r.Failures.Groups()
	}
	return report.Summary{
		RunID:      r.RunID,
		Scenario:   r.Scenario,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		URLs:       r.URLs,
		Skipped:    r.Stats.Skipped,
		LoadErrors: r.Stats.LoadErrors,
		Workers:    r.Workers,
		Checks:     counts,
		Failures:   groups,
	}
}

// Run validates every URL of c exactly once across the worker pool. It
// returns a *report.SuiteError when any failure was recorded.
func (d *Dispatcher) Run(ctx context.Context, c corpus.Corpus) (Result, error) {
	runID, err := d.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	recorder, err := metrics.NewRecorder(d.cfg.Registerer)
	if err != nil {
		return Result{}, fmt.Errorf("init metrics: %w", err)
	}
	res := Result{
		RunID:     runID,
		Scenario:  d.cfg.Scenario,
		StartedAt: d.clock.Now(),
		URLs:      c.Len(),
		Workers:   d.poolSize(c.Len()),
		Failures:  report.NewFailures(),
		Recorder:  recorder,
	}
	logger := d.logger.With(zap.String("run_id", runID), zap.String("scenario", d.cfg.Scenario))
	logger.Info("Starting run",
		zap.Int("urls", res.URLs),
		zap.Int("workers", res.Workers),
		zap.Int("checks", len(d.checks)),
		zap.Int("ignore_newer_than_weeks", d.policy.Window()),
	)

	source := corpus.NewCursor(c)
	deps := worker.Deps{
		Source:   source,
		Sessions: d.sessions,
		Checks:   d.checks,
		Policy:   d.policy,
		Failures: res.Failures,
		Recorder: recorder,
		Clock:    d.clock,
		Parse:    d.cfg.Parse,
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		opened int
	)
	for i := 0; i < res.Workers; i++ {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			stats, err := wk.Run(ctx)
			mu.Lock()
			defer mu.Unlock()
			res.Stats.Add(stats)
			if err != nil {
				errs = append(errs, err)
			}
			if stats.Served > 0 || err == nil {
				opened++
			}
		}(worker.New(i, deps, logger))
	}
	wg.Wait()
	res.FinishedAt = d.clock.Now()
	res.Unserved = source.Remaining()

	for _, chk := range d.checks {
		if n := len(res.Failures.ForCheck(string(chk.Key()))); n > 0 {
			logger.Info("Check failed", zap.String("check", string(chk.Key())), zap.Int("urls", n))
		}
	}
	logger.Info("Run finished",
		zap.Int("served", source.Served()),
		zap.Int("unserved", res.Unserved),
		zap.Int("loaded", res.Stats.Loaded),
		zap.Int("skipped", res.Stats.Skipped),
		zap.Int("load_errors", res.Stats.LoadErrors),
		zap.Int("failures", res.Failures.Len()),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run %s interrupted: %w", runID, err)
	}
	if res.Workers > 0 && opened == 0 {
		return res, fmt.Errorf("%w: %w", ErrNoSessions, errors.Join(errs...))
	}
	for _, err := range errs {
		logger.Warn("Worker ended early", zap.Error(err))
	}
	if suiteErr := report.NewSuiteError(d.cfg.Scenario, res.Failures); suiteErr != nil {
		return res, suiteErr
	}
	return res, nil
}

// poolSize caps the configured worker count at the corpus size so idle
// workers never open sessions.
func (d *Dispatcher) poolSize(urls int) int {
	n := d.cfg.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > urls {
		n = urls
	}
	return n
}
