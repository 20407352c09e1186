// Package config loads and validates sitecheck configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitecheck/internal/policy/skip"
	"github.com/JakeFAU/sitecheck/internal/site"
)

// Browser modes.
const (
	BrowserChromedp = "chromedp"
	BrowserStatic   = "static"
	// BrowserAuto fetches statically and renders client-side pages with chromedp.
	BrowserAuto = "auto"
)

// Corpus sources.
const (
	CorpusFile    = "file"
	CorpusSitemap = "sitemap"
	CorpusInline  = "inline"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site      SiteConfig      `mapstructure:"site"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Retry     RetryConfig     `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
	Skip      skip.Config     `mapstructure:"skip"`
	VAT       VATConfig       `mapstructure:"vat"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Report    ReportConfig    `mapstructure:"report"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SiteConfig describes the site under test.
type SiteConfig struct {
	BaseURL   string         `mapstructure:"base_url"`
	DraftHost string         `mapstructure:"draft_host"`
	Selectors site.Selectors `mapstructure:"selectors"`
}

// RunnerConfig controls the worker pool.
type RunnerConfig struct {
	// Concurrency of zero uses every available CPU.
	Concurrency int `mapstructure:"concurrency"`
	// Sequential runs a single throttled worker.
	Sequential bool `mapstructure:"sequential"`
}

// BrowserConfig selects and tunes the page session implementation.
type BrowserConfig struct {
	Mode              string `mapstructure:"mode"`
	UserAgent         string `mapstructure:"user_agent"`
	Headless          bool   `mapstructure:"headless"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	// RenderWaitMs is only applied by the code-block-rendering scenario.
	RenderWaitMs int    `mapstructure:"render_wait_ms"`
	ExecPath     string `mapstructure:"exec_path"`
}

// ProxyConfig holds credentials for the geo-routed proxy.
type ProxyConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// RetryConfig bounds the retry flow.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// RateLimitConfig configures the shared page-load token bucket.
type RateLimitConfig struct {
	PermitsPerSecond float64 `mapstructure:"permits_per_second"`
	Burst            int     `mapstructure:"burst"`
}

// CorpusConfig says where article URLs come from.
type CorpusConfig struct {
	Source     string   `mapstructure:"source"`
	Path       string   `mapstructure:"path"`
	SitemapURL string   `mapstructure:"sitemap_url"`
	URLs       []string `mapstructure:"urls"`
	Filter     []string `mapstructure:"filter"`
}

// VATConfig locates the course page used by the geo pricing check.
type VATConfig struct {
	CoursePath string `mapstructure:"course_path"`
}

// CrawlConfig drives the link crawler.
type CrawlConfig struct {
	StartURLs      []string `mapstructure:"start_urls"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	BlockedDomains []string `mapstructure:"blocked_domains"`
	MaxDepth       int      `mapstructure:"max_depth"`
	Parallelism    int      `mapstructure:"parallelism"`
	Patterns       []string `mapstructure:"patterns"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
}

// ReportConfig controls report rendering.
type ReportConfig struct {
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig configures the optional Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// PostgresConfig enables run persistence.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSConfig enables report uploads.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig enables run summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file and SITECHECK_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITECHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://www.baeldung.com")
	v.SetDefault("runner.concurrency", 0)
	v.SetDefault("runner.sequential", false)
	v.SetDefault("browser.mode", BrowserChromedp)
	v.SetDefault("browser.user_agent", "sitecheck/0.1")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.render_wait_ms", 500)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("rate_limit.permits_per_second", 2)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("corpus.source", CorpusSitemap)
	v.SetDefault("corpus.sitemap_url", "https://www.baeldung.com/post-sitemap.xml")
	v.SetDefault("skip.ignore_newer_than_weeks", 2)
	v.SetDefault("vat.course_path", "/learn-spring-course")
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.parallelism", 0)
	v.SetDefault("crawl.patterns", []string{"/tutorials/blob/master"})
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("report.format", "text")
	v.SetDefault("metrics.job", "sitecheck")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Site.BaseURL) == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Runner.Concurrency < 0 {
		return fmt.Errorf("runner.concurrency must be >= 0")
	}
	switch c.Browser.Mode {
	case BrowserChromedp, BrowserStatic, BrowserAuto:
	default:
		return fmt.Errorf("browser.mode must be %q, %q or %q", BrowserChromedp, BrowserStatic, BrowserAuto)
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.RateLimit.PermitsPerSecond < 0 {
		return fmt.Errorf("rate_limit.permits_per_second must be >= 0")
	}
	switch c.Corpus.Source {
	case CorpusFile:
		if c.Corpus.Path == "" {
			return fmt.Errorf("corpus.path must be set when corpus.source is %q", CorpusFile)
		}
	case CorpusSitemap:
		if c.Corpus.SitemapURL == "" {
			return fmt.Errorf("corpus.sitemap_url must be set when corpus.source is %q", CorpusSitemap)
		}
	case CorpusInline:
		if len(c.Corpus.URLs) == 0 {
			return fmt.Errorf("corpus.urls must be set when corpus.source is %q", CorpusInline)
		}
	default:
		return fmt.Errorf("corpus.source must be one of file, sitemap, inline")
	}
	if c.Skip.IgnoreNewerThanWeeks < 0 {
		return fmt.Errorf("skip.ignore_newer_than_weeks must be >= 0")
	}
	if c.Proxy.Host != "" && c.Proxy.Port == "" {
		return fmt.Errorf("proxy.port must be set when proxy.host is set")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when postgres is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set together")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// NavigationTimeout converts the browser timeout into a duration.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// RenderWait converts the browser render wait into a duration.
func (c Config) RenderWait() time.Duration {
	return time.Duration(c.Browser.RenderWaitMs) * time.Millisecond
}

// CourseURL returns the absolute URL of the VAT course page.
func (c Config) CourseURL() string {
	return strings.TrimSuffix(c.Site.BaseURL, "/") + "/" + strings.TrimPrefix(c.VAT.CoursePath, "/")
}
