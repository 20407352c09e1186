// Package linkcrawl walks the site with colly and flags anchors matching a rule.
package linkcrawl

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// IncorrectlyLinked is the built-in rule name for links to repository file
// views that should point at the project tree.
const IncorrectlyLinked = "incorrectly-linked"

// Rule selects the anchors to flag. An href matches when it contains any
// pattern, compared case-insensitively.
type Rule struct {
	Name     string
	Patterns []string
}

// IncorrectlyLinkedRule builds the built-in rule from patterns.
func IncorrectlyLinkedRule(patterns []string) Rule {
	return Rule{Name: IncorrectlyLinked, Patterns: patterns}
}

func (r Rule) matches(href string) bool {
	href = strings.ToLower(href)
	for _, p := range r.Patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(href, p) {
			return true
		}
	}
	return false
}

// Config controls traversal.
type Config struct {
	StartURLs      []string
	AllowedDomains []string
	// BlockedDomains are exact hosts or "*.suffix" wildcards never visited.
	BlockedDomains []string
	MaxDepth       int
	UserAgent      string
	RespectRobots  bool
	Delay          time.Duration
}

// Result groups matched hrefs by the page they were found on.
type Result struct {
	Rule       string              `json:"rule"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Visited    int                 `json:"visited"`
	Matched    map[string][]string `json:"matched"`
}

// Total counts matched hrefs across all pages.
func (r Result) Total() int {
	n := 0
	for _, hrefs := range r.Matched {
		n += len(hrefs)
	}
	return n
}

// Pages returns the pages with matches, sorted.
func (r Result) Pages() []string {
	pages := make([]string, 0, len(r.Matched))
	for p := range r.Matched {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	return pages
}

// Controller runs link crawls.
type Controller struct {
	cfg     Config
	blocked *domainBlocklist
	logger  *zap.Logger
}

// NewController creates a Controller.
func NewController(cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:     cfg,
		blocked: newDomainBlocklist(cfg.BlockedDomains),
		logger:  logger.Named("linkcrawl"),
	}
}

// Start crawls from the configured start URLs with parallelism concurrent
// requests per domain and returns every anchor matching rule. Zero
// parallelism uses every CPU.
func (c *Controller) Start(ctx context.Context, rule Rule, parallelism int) (Result, error) {
	if len(c.cfg.StartURLs) == 0 {
		return Result{}, fmt.Errorf("start crawl: no start urls")
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	res := Result{Rule: rule.Name, StartedAt: time.Now().UTC(), Matched: map[string][]string{}}
	var (
		mu   sync.Mutex
		seen = map[string]map[string]struct{}{}
	)

	collector, err := c.newCollector(parallelism)
	if err != nil {
		return Result{}, err
	}
	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil || c.blocked.IsBlocked(r.URL.Hostname()) {
			r.Abort()
		}
	})
	collector.OnResponse(func(*colly.Response) {
		mu.Lock()
		res.Visited++
		mu.Unlock()
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" {
			return
		}
		if rule.matches(href) {
			page := e.Request.URL.String()
			normalized, err := normalizeURL(href)
			if err != nil {
				normalized = href
			}
			mu.Lock()
			if seen[page] == nil {
				seen[page] = map[string]struct{}{}
			}
			if _, dup := seen[page][normalized]; !dup {
				seen[page][normalized] = struct{}{}
				res.Matched[page] = append(res.Matched[page], normalized)
			}
			mu.Unlock()
			return
		}
		if err := e.Request.Visit(href); err != nil {
			c.logger.Debug("Not following link", zap.String("url", href), zap.Error(err))
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("Request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status_code", r.StatusCode),
			zap.Error(err),
		)
	})

	c.logger.Info("Starting crawl",
		zap.String("rule", rule.Name),
		zap.Int("parallelism", parallelism),
		zap.Int("cores", runtime.NumCPU()),
		zap.Time("started_at", res.StartedAt),
	)
	for _, u := range c.cfg.StartURLs {
		if err := collector.Visit(u); err != nil {
			c.logger.Error("Failed to visit URL", zap.String("url", u), zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		collector.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		<-done
		return res, fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}

	res.FinishedAt = time.Now().UTC()
	c.logger.Info("Crawl finished",
		zap.String("rule", rule.Name),
		zap.Int("visited", res.Visited),
		zap.Int("pages_with_matches", len(res.Matched)),
		zap.Int("matches", res.Total()),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (c *Controller) newCollector(parallelism int) (*colly.Collector, error) {
	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.MaxDepth(c.cfg.MaxDepth),
	}
	if len(c.cfg.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(c.cfg.AllowedDomains...))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(c.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.IgnoreRobotsTxt = !c.cfg.RespectRobots

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       c.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}
	return collector, nil
}

// normalizeURL lowercases scheme and host, drops default ports and the
// fragment, and sorts the query.
func normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}
