package corpus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// SitemapConfig controls how a sitemap is fetched.
type SitemapConfig struct {
	UserAgent string
	Timeout   time.Duration
	// Filter keeps only locations containing one of these substrings when set.
	Filter []string
}

// LoadSitemap collects every <loc> entry of an XML sitemap, following nested
// sitemap indexes, and returns them as a corpus resolved against base.
func LoadSitemap(ctx context.Context, sitemapURL, base string, cfg SitemapConfig) (Corpus, error) {
	collector := colly.NewCollector(colly.Async(false))
	collector.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		collector.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		mu       sync.Mutex
		locs     []string
		fetchErr error
	)
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		if err := e.Request.Visit(strings.TrimSpace(e.Text)); err != nil {
			mu.Lock()
			fetchErr = err
			mu.Unlock()
		}
	})
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if !matchesFilter(loc, cfg.Filter) {
			return
		}
		mu.Lock()
		locs = append(locs, loc)
		mu.Unlock()
	})
	collector.OnError(func(_ *colly.Response, err error) {
		mu.Lock()
		fetchErr = err
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(sitemapURL)
	}()
	select {
	case <-ctx.Done():
		return Corpus{}, fmt.Errorf("sitemap fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Corpus{}, fmt.Errorf("visit sitemap: %w", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return Corpus{}, fmt.Errorf("fetch sitemap: %w", fetchErr)
	}
	return New(base, locs)
}

func matchesFilter(loc string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if strings.Contains(loc, f) {
			return true
		}
	}
	return false
}
