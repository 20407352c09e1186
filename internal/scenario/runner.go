package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
	"github.com/JakeFAU/sitecheck/internal/corpus"
	"github.com/JakeFAU/sitecheck/internal/dispatcher"
	"github.com/JakeFAU/sitecheck/internal/policy/skip"
	"github.com/JakeFAU/sitecheck/internal/report"
	"github.com/JakeFAU/sitecheck/internal/retry"
	"github.com/JakeFAU/sitecheck/internal/site"
	"github.com/JakeFAU/sitecheck/internal/telemetry"
	"github.com/JakeFAU/sitecheck/internal/worker"
)

// VATScenario is the name of the geo-routed pricing run.
const VATScenario = "vat-pricing"

// CorpusLoader produces the URLs of one run.
type CorpusLoader interface {
	Load(ctx context.Context) (corpus.Corpus, error)
}

// LoaderFunc adapts a function into a CorpusLoader.
type LoaderFunc func(ctx context.Context) (corpus.Corpus, error)

// Load implements CorpusLoader.
func (f LoaderFunc) Load(ctx context.Context) (corpus.Corpus, error) {
	return f(ctx)
}

// Sink receives the summary of every finished run. Sink errors are logged and
// never change a run's verdict.
type Sink interface {
	Deliver(ctx context.Context, s report.Summary) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ctx context.Context, s report.Summary) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, s report.Summary) error {
	return f(ctx, s)
}

// Options configures a Runner.
type Options struct {
	Workers int
	// Sequential runs one worker whose page loads go through Limiter.
	Sequential bool
	Parse      site.Options
	Skip       skip.Config
	Retry      retry.Config
	// CourseURL is the page loaded by the VAT scenario.
	CourseURL string
	Proxy     *browser.Proxy
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Registry *checks.Registry
	Sessions browser.Factory
	// VATSessions open proxied sessions. Nil falls back to Sessions.
	VATSessions browser.Factory
	// SettledSessions wait for client-side rendering after each load. Only
	// the code-block-rendering scenario uses them. Nil falls back to Sessions.
	SettledSessions browser.Factory
	Limiter         browser.Waiter
	Corpus          CorpusLoader
	Clock           worker.Clock
	IDs             dispatcher.IDGenerator
	Registerer      prometheus.Registerer
	Sinks           []Sink
}

// Runner executes scenarios by name.
type Runner struct {
	opts   Options
	deps   Deps
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts Options, deps Deps, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = checks.DefaultRegistry()
	}
	if deps.VATSessions == nil {
		deps.VATSessions = deps.Sessions
	}
	if deps.SettledSessions == nil {
		deps.SettledSessions = deps.Sessions
	}
	return &Runner{opts: opts, deps: deps, logger: logger.Named("scenario")}
}

// Catalog lists the scenarios this runner accepts, excluding VATScenario.
func (r *Runner) Catalog() []Scenario {
	return Catalog(r.deps.Registry)
}

// Run executes the scenario called name across the full corpus. A failing
// run returns a *report.SuiteError whose message is the grouped report.
func (r *Runner) Run(ctx context.Context, name string) (res dispatcher.Result, err error) {
	sc, err := Lookup(r.deps.Registry, name)
	if err != nil {
		return dispatcher.Result{}, err
	}
	ctx, span := telemetry.Tracer().Start(ctx, "scenario.run", trace.WithAttributes(attribute.String("scenario", sc.Name)))
	defer func() { telemetry.End(span, err) }()

	selected, err := r.deps.Registry.Select(sc.Checks...)
	if err != nil {
		return dispatcher.Result{}, fmt.Errorf("select checks: %w", err)
	}

	r.logger.Info("Running scenario",
		zap.String("scenario", sc.Name),
		zap.Int("ignore_newer_than_weeks", r.opts.Skip.IgnoreNewerThanWeeks),
		zap.Bool("sequential", r.opts.Sequential),
	)

	c, err := r.deps.Corpus.Load(ctx)
	if err != nil {
		return dispatcher.Result{}, fmt.Errorf("load corpus: %w", err)
	}

	workers := r.opts.Workers
	sessions := r.deps.Sessions
	if sc.Name == string(checks.CodeBlockRendering) {
		sessions = r.deps.SettledSessions
	}
	if r.opts.Sequential {
		workers = 1
		if r.deps.Limiter != nil {
			sessions = browser.Throttled(sessions, r.deps.Limiter)
		}
	}

	d := dispatcher.New(
		dispatcher.Config{
			Scenario:   sc.Name,
			Workers:    workers,
			Parse:      r.opts.Parse,
			Registerer: r.deps.Registerer,
		},
		sessions,
		selected,
		skip.New(r.opts.Skip),
		r.deps.Clock,
		r.deps.IDs,
		r.logger,
	)
	res, err = d.Run(ctx, c)
	if res.RunID != "" {
		span.SetAttributes(attribute.String("run_id", res.RunID))
		r.deliver(ctx, res.Summary())
	}
	return res, err
}

// RunVAT loads the course page through the proxy and requires VAT-inclusive
// prices. Load and session failures are retried with a fresh session; a
// page that loads without VAT prices fails immediately.
func (r *Runner) RunVAT(ctx context.Context) (_ report.Summary, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "scenario.run", trace.WithAttributes(attribute.String("scenario", VATScenario)))
	defer func() { telemetry.End(span, err) }()

	runID, err := r.deps.IDs.NewID()
	if err != nil {
		return report.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	r.logger.Info("Running scenario",
		zap.String("scenario", VATScenario),
		zap.String("url", r.opts.CourseURL),
		zap.Bool("proxy", r.opts.Proxy.Enabled()),
	)

	summary := report.Summary{
		RunID:     runID,
		Scenario:  VATScenario,
		StartedAt: r.deps.Clock.Now(),
		URLs:      1,
		Workers:   1,
		Checks:    map[string]report.CheckCounts{},
	}
	check := checks.NewVATPricing()
	failures := report.NewFailures()
	counts := report.CheckCounts{}

	err = retry.Do(ctx, r.opts.Retry, r.deps.VATSessions, func(ctx context.Context, s browser.Session) error {
		counts.Attempted++
		snap, err := s.Load(ctx, r.opts.CourseURL)
		if err != nil {
			counts.Errored++
			return fmt.Errorf("load %s: %w", r.opts.CourseURL, err)
		}
		page, err := site.Parse(snap, r.opts.Parse)
		if err != nil {
			counts.Errored++
			return fmt.Errorf("parse %s: %w", r.opts.CourseURL, err)
		}
		out := check.Evaluate(ctx, page)
		switch out.Status {
		case checks.StatusPass:
			counts.Passed++
			return nil
		case checks.StatusFail:
			counts.Failed++
			detail := r.vatDetail()
			failures.Record(string(checks.VATPricing), r.opts.CourseURL, detail, out.Count)
			return retry.Permanent(errors.New(detail))
		default:
			counts.Errored++
			return fmt.Errorf("evaluate %s: %w", checks.VATPricing, out.Err)
		}
	}, r.logger)

	summary.Checks[string(checks.VATPricing)] = counts
	summary.FinishedAt = r.deps.Clock.Now()
	summary.Failures = failures.Groups()
	if err != nil && failures.IsEmpty() {
		summary.LoadErrors = 1
	}
	r.deliver(ctx, summary)

	if suiteErr := report.NewSuiteError(VATScenario, failures); suiteErr != nil {
		return summary, suiteErr
	}
	if err != nil {
		return summary, fmt.Errorf("scenario %s: %w", VATScenario, err)
	}
	return summary, nil
}

func (r *Runner) vatDetail() string {
	if r.opts.Proxy.Enabled() {
		return fmt.Sprintf("VAT prices not displayed in EU region. Proxy Server:%s", r.opts.Proxy.Address())
	}
	return "VAT prices not displayed in EU region"
}

func (r *Runner) deliver(ctx context.Context, s report.Summary) {
	// Sinks run on a detached context so an interrupted run still gets recorded.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	for _, sink := range r.deps.Sinks {
		if err := sink.Deliver(sinkCtx, s); err != nil {
			r.logger.Warn("Run sink failed", zap.String("run_id", s.RunID), zap.Error(err))
		}
	}
}
