package browser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticConfig controls plain HTTP sessions.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// StaticFactory opens sessions that fetch HTML over HTTP without executing
// JavaScript. Snapshots carry no layout.
type StaticFactory struct {
	cfg   StaticConfig
	proxy *Proxy
}

// NewStaticFactory creates a factory. proxy may be nil.
func NewStaticFactory(cfg StaticConfig, proxy *Proxy) *StaticFactory {
	return &StaticFactory{cfg: cfg, proxy: proxy}
}

// Open implements Factory. Each session owns its own collector and transport.
func (f *StaticFactory) Open(_ context.Context) (Session, error) {
	transport := newHTTPTransport()
	if f.proxy.Enabled() {
		proxyURL, err := url.Parse(f.proxy.URL())
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if f.proxy.hasCredentials() {
			proxyURL.User = url.UserPassword(f.proxy.Username, f.proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)
	c.WithTransport(transport)

	return &staticSession{base: c, transport: transport}, nil
}

type staticSession struct {
	mu        sync.Mutex
	closed    bool
	base      *colly.Collector
	transport *http.Transport
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (s *staticSession) Load(ctx context.Context, rawURL string) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	collector := s.base.Clone()
	s.mu.Unlock()
	collector.WithTransport(s.transport)

	var (
		snap     Snapshot
		fetchErr error
	)
	start := time.Now()
	configureHooks(collector, rawURL, start, &snap, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("static load canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Snapshot{}, fmt.Errorf("colly visit failed: %w", err)
		}
	}
	if fetchErr != nil {
		return Snapshot{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	return snap, nil
}

func configureHooks(hooks collectorHooks, rawURL string, start time.Time, snap *Snapshot, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*snap = Snapshot{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			HTML:       string(r.Body),
			Duration:   time.Since(start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (s *staticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.transport.CloseIdleConnections()
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
