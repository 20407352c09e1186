// Package app builds the long-lived services of a sitecheck process from
// configuration and acts as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
	"github.com/JakeFAU/sitecheck/internal/clock/system"
	"github.com/JakeFAU/sitecheck/internal/config"
	"github.com/JakeFAU/sitecheck/internal/corpus"
	"github.com/JakeFAU/sitecheck/internal/id/uuid"
	"github.com/JakeFAU/sitecheck/internal/linkcrawl"
	"github.com/JakeFAU/sitecheck/internal/metrics"
	"github.com/JakeFAU/sitecheck/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/sitecheck/internal/publisher/pubsub"
	"github.com/JakeFAU/sitecheck/internal/report"
	"github.com/JakeFAU/sitecheck/internal/retry"
	"github.com/JakeFAU/sitecheck/internal/scenario"
	"github.com/JakeFAU/sitecheck/internal/site"
	gcsstore "github.com/JakeFAU/sitecheck/internal/store/gcs"
	pgstore "github.com/JakeFAU/sitecheck/internal/store/postgres"
	"github.com/JakeFAU/sitecheck/internal/telemetry"
)

// App holds the shared services of one process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	ids      *uuid.Generator
	clock    *system.Clock
	runner   *scenario.Runner
	crawler  *linkcrawl.Controller
	closers  []func() error
}

// New creates every service cfg enables. It fails fast when an enabled
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		ids:      uuid.New(),
		clock:    system.New(),
	}
	logger.Info("Initializing application services",
		zap.String("base_url", cfg.Site.BaseURL),
		zap.String("browser", cfg.Browser.Mode),
	)

	observer, err := metrics.NewRecorder(a.registry)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	tp, err := telemetry.InitTracerProvider(ctx, "sitecheck")
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.Background()) })

	sessions, vatSessions, settledSessions := a.sessionFactories()
	sinks, err := a.sinks(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.runner = scenario.NewRunner(
		scenario.Options{
			Workers:    cfg.Runner.Concurrency,
			Sequential: cfg.Runner.Sequential,
			Parse: site.Options{
				Selectors: cfg.Site.Selectors,
				DraftHost: cfg.Site.DraftHost,
			},
			Skip:      cfg.Skip,
			Retry:     retry.Config{MaxAttempts: cfg.Retry.MaxAttempts},
			CourseURL: cfg.CourseURL(),
			Proxy:     a.proxy(),
		},
		scenario.Deps{
			Registry:        checks.DefaultRegistry(),
			Sessions:        sessions,
			VATSessions:     vatSessions,
			SettledSessions: settledSessions,
			Limiter: ratelimit.New(ratelimit.Config{
				PermitsPerSecond: cfg.RateLimit.PermitsPerSecond,
				Burst:            cfg.RateLimit.Burst,
			}, observer),
			Corpus:     scenario.LoaderFunc(a.loadCorpus),
			Clock:      a.clock,
			IDs:        a.ids,
			Registerer: a.registry,
			Sinks:      sinks,
		},
		logger,
	)

	a.crawler = linkcrawl.NewController(linkcrawl.Config{
		StartURLs:      a.crawlStartURLs(),
		AllowedDomains: cfg.Crawl.AllowedDomains,
		BlockedDomains: cfg.Crawl.BlockedDomains,
		MaxDepth:       cfg.Crawl.MaxDepth,
		UserAgent:      cfg.Browser.UserAgent,
		RespectRobots:  cfg.Crawl.RespectRobots,
	}, logger)

	logger.Info("Application services initialized", zap.Int("sinks", len(sinks)))
	return a, nil
}

func (a *App) proxy() *browser.Proxy {
	if a.cfg.Proxy.Host == "" {
		return nil
	}
	return &browser.Proxy{
		Host:     a.cfg.Proxy.Host,
		Port:     a.cfg.Proxy.Port,
		Username: a.cfg.Proxy.Username,
		Password: a.cfg.Proxy.Password,
	}
}

// sessionFactories returns the direct factory, the proxied factory used by
// the VAT scenario, and the factory that settles after each load for the
// code-block-rendering scenario. Static sessions never render, so their
// settled factory is nil.
func (a *App) sessionFactories() (direct, proxied, settled browser.Factory) {
	b := a.cfg.Browser
	sc := browser.StaticConfig{UserAgent: b.UserAgent, Timeout: a.cfg.NavigationTimeout()}
	if b.Mode == config.BrowserStatic {
		return browser.NewStaticFactory(sc, nil), browser.NewStaticFactory(sc, a.proxy()), nil
	}
	f := browser.NewChromedpFactory(browser.ChromedpConfig{
		UserAgent:         b.UserAgent,
		Headless:          b.Headless,
		NavigationTimeout: a.cfg.NavigationTimeout(),
		ExecPath:          b.ExecPath,
	}, nil, a.logger)
	waited := f.WithRenderWait(a.cfg.RenderWait())
	if b.Mode == config.BrowserAuto {
		promoter := browser.NewPromoter(0)
		return browser.NewAutoFactory(browser.NewStaticFactory(sc, nil), f, promoter, a.logger),
			browser.NewAutoFactory(browser.NewStaticFactory(sc, a.proxy()), f.WithProxy(a.proxy()), promoter, a.logger),
			browser.NewAutoFactory(browser.NewStaticFactory(sc, nil), waited, promoter, a.logger)
	}
	return f, f.WithProxy(a.proxy()), waited
}

func (a *App) sinks(ctx context.Context) ([]scenario.Sink, error) {
	var sinks []scenario.Sink
	cfg := a.cfg

	if cfg.Postgres.Enabled {
		store, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.logger.Info("Persisting runs to Postgres")
		sinks = append(sinks, store)
	}

	if cfg.GCS.Bucket != "" {
		format, err := report.ParseFormat(cfg.Report.Format)
		if err != nil {
			return nil, err
		}
		store, err := gcsstore.Open(ctx, gcsstore.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix, Format: format})
		if err != nil {
			return nil, fmt.Errorf("init gcs: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.logger.Info("Uploading reports to GCS", zap.String("bucket", cfg.GCS.Bucket))
		sinks = append(sinks, store)
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("Publishing run summaries", zap.String("topic", cfg.PubSub.TopicID))
		sinks = append(sinks, pub)
	}

	if cfg.Metrics.PushgatewayURL != "" {
		url, job := cfg.Metrics.PushgatewayURL, cfg.Metrics.Job
		sinks = append(sinks, scenario.SinkFunc(func(ctx context.Context, s report.Summary) error {
			return metrics.Push(ctx, url, job, s.RunID, a.registry)
		}))
	}
	return sinks, nil
}

func (a *App) loadCorpus(ctx context.Context) (corpus.Corpus, error) {
	c := a.cfg.Corpus
	base := a.cfg.Site.BaseURL
	switch c.Source {
	case config.CorpusFile:
		return corpus.LoadFile(c.Path, base)
	case config.CorpusInline:
		return corpus.New(base, c.URLs)
	default:
		return corpus.LoadSitemap(ctx, c.SitemapURL, base, corpus.SitemapConfig{
			UserAgent: a.cfg.Browser.UserAgent,
			Timeout:   a.cfg.NavigationTimeout(),
			Filter:    c.Filter,
		})
	}
}

func (a *App) crawlStartURLs() []string {
	if len(a.cfg.Crawl.StartURLs) > 0 {
		return a.cfg.Crawl.StartURLs
	}
	return []string{a.cfg.Site.BaseURL}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Registry returns the Prometheus registry every run reports into.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Runner returns the scenario runner.
func (a *App) Runner() *scenario.Runner { return a.runner }

// Crawler returns the link crawl controller.
func (a *App) Crawler() *linkcrawl.Controller { return a.crawler }

// IDs returns the run ID generator.
func (a *App) IDs() *uuid.Generator { return a.ids }

// Clock returns the wall clock.
func (a *App) Clock() *system.Clock { return a.clock }

// Close shuts down every backend and flushes the logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Error shutting down services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
