// Package worker implements the per-goroutine validation loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
	"github.com/JakeFAU/sitecheck/internal/logging"
	"github.com/JakeFAU/sitecheck/internal/metrics"
	"github.com/JakeFAU/sitecheck/internal/policy/skip"
	"github.com/JakeFAU/sitecheck/internal/report"
	"github.com/JakeFAU/sitecheck/internal/site"
)

// maxLoggedErrorLen bounds check error messages written to the log.
const maxLoggedErrorLen = 100

// URLSource hands out corpus URLs. Next reports false once exhausted.
type URLSource interface {
	Next() (string, bool)
}

// SkipPolicy decides which URLs and checks are skipped.
type SkipPolicy interface {
	ShouldSkipURL(url string, age skip.Age) bool
	ShouldSkip(key, url string, age skip.Age) bool
}

// Clock supplies the current time for page age computation.
type Clock interface {
	Now() time.Time
}

// Deps are the collaborators shared by every worker of a run.
type Deps struct {
	Source   URLSource
	Sessions browser.Factory
	Checks   []checks.Check
	Policy   SkipPolicy
	Failures *report.Failures
	Recorder *metrics.Recorder
	Clock    Clock
	Parse    site.Options
}

// Stats summarises one worker's run.
type Stats struct {
	Served     int
	Loaded     int
	Skipped    int
	LoadErrors int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Served += other.Served
	s.Loaded += other.Loaded
	s.Skipped += other.Skipped
	s.LoadErrors += other.LoadErrors
}

// Worker owns one page session and drains URLs until the source is exhausted.
type Worker struct {
	id     int
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Deps, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		deps:   deps,
		logger: logger.Named("worker").With(zap.Int("index", id)),
	}
}

// Run acquires a session, evaluates every URL it pulls, and releases the
// session on every exit path. Only session acquisition and cancellation end
// the loop early; page and check errors never do.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	session, err := w.deps.Sessions.Open(ctx)
	if err != nil {
		return stats, fmt.Errorf("worker %d open session: %w", w.id, err)
	}
	w.deps.Recorder.WorkerStarted()
	defer func() {
		w.deps.Recorder.WorkerStopped()
		if cerr := session.Close(); cerr != nil {
			w.logger.Warn("Failed to close session", zap.Error(cerr))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("worker %d interrupted: %w", w.id, err)
		}
		url, ok := w.deps.Source.Next()
		if !ok {
			w.logger.Debug("URL supply exhausted", zap.Int("served", stats.Served))
			return stats, nil
		}
		stats.Served++
		w.handleURL(ctx, session, url, &stats)
	}
}

func (w *Worker) handleURL(ctx context.Context, session browser.Session, url string, stats *Stats) {
	if w.deps.Policy.ShouldSkipURL(url, skip.UnknownAge) {
		w.skipURL(url, "excluded", stats)
		return
	}

	w.logger.Debug("Loading", zap.String("url", url))
	snap, err := session.Load(ctx, url)
	if err != nil {
		w.loadFailed(url, err, stats)
		return
	}
	page, err := site.Parse(snap, w.deps.Parse)
	if err != nil {
		w.loadFailed(url, err, stats)
		return
	}

	age := skip.UnknownAge
	if weeks, known := page.AgeInWeeks(w.deps.Clock.Now()); known {
		age = skip.WeeksOld(weeks)
	}
	if w.deps.Policy.ShouldSkipURL(url, age) {
		w.skipURL(url, "newer than window", stats)
		return
	}

	stats.Loaded++
	w.deps.Recorder.Page(metrics.PageLoaded)
	for _, c := range w.deps.Checks {
		w.runCheck(ctx, c, page, age)
	}
}

func (w *Worker) runCheck(ctx context.Context, c checks.Check, page *site.Page, age skip.Age) {
	key := string(c.Key())
	if w.deps.Policy.ShouldSkip(key, page.URL(), age) {
		w.deps.Recorder.Skipped(key)
		return
	}
	w.deps.Recorder.Executed(key)
	out := evaluate(ctx, c, page)
	switch out.Status {
	case checks.StatusPass:
		w.deps.Recorder.Result(key, true)
	case checks.StatusFail:
		w.deps.Recorder.Result(key, false)
		w.deps.Failures.Add(report.Record{Check: key, URL: page.URL(), Detail: out.Detail, Count: out.Count})
	default:
		w.deps.Recorder.Errored(key)
		w.logger.Warn("Check execution error",
			zap.String("check", key),
			zap.String("url", page.URL()),
			zap.String("error", logging.Truncate(out.Detail, maxLoggedErrorLen)),
		)
	}
}

// evaluate isolates a single check so a panic becomes an inconclusive outcome.
func evaluate(ctx context.Context, c checks.Check, page checks.Page) (out checks.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = checks.Errored(fmt.Errorf("check %s panicked: %v", c.Key(), r))
		}
	}()
	return c.Evaluate(ctx, page)
}

func (w *Worker) skipURL(url, reason string, stats *Stats) {
	stats.Skipped++
	w.deps.Recorder.Page(metrics.PageSkipped)
	w.logger.Debug("Skipping URL", zap.String("url", url), zap.String("reason", reason))
}

// loadFailed marks every applicable check inconclusive for url.
func (w *Worker) loadFailed(url string, err error, stats *Stats) {
	stats.LoadErrors++
	w.deps.Recorder.Page(metrics.PageLoadError)
	w.logger.Warn("Page load failed", zap.String("url", url), zap.String("error", logging.Truncate(err.Error(), maxLoggedErrorLen)))
	for _, c := range w.deps.Checks {
		key := string(c.Key())
		if w.deps.Policy.ShouldSkip(key, url, skip.UnknownAge) {
			w.deps.Recorder.Skipped(key)
			continue
		}
		w.deps.Recorder.Executed(key)
		w.deps.Recorder.Errored(key)
	}
}
