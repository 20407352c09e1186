package browser

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpConfig controls headless Chrome sessions.
type ChromedpConfig struct {
	UserAgent         string
	Headless          bool
	NavigationTimeout time.Duration
	// RenderWait is slept after the body is ready so client-side highlighters
	// finish rendering. Zero skips the wait.
	RenderWait time.Duration
	ExecPath   string
}

// ChromedpFactory opens one Chrome process per session.
type ChromedpFactory struct {
	cfg    ChromedpConfig
	proxy  *Proxy
	logger *zap.Logger
}

// NewChromedpFactory creates a factory. proxy may be nil.
func NewChromedpFactory(cfg ChromedpConfig, proxy *Proxy, logger *zap.Logger) *ChromedpFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpFactory{cfg: cfg, proxy: proxy, logger: logger}
}

// WithProxy returns a factory with the same settings routed through proxy.
func (f *ChromedpFactory) WithProxy(proxy *Proxy) *ChromedpFactory {
	return &ChromedpFactory{cfg: f.cfg, proxy: proxy, logger: f.logger}
}

// WithRenderWait returns a factory with the same settings that settles for d
// after every page load.
func (f *ChromedpFactory) WithRenderWait(d time.Duration) *ChromedpFactory {
	cfg := f.cfg
	cfg.RenderWait = d
	return &ChromedpFactory{cfg: cfg, proxy: f.proxy, logger: f.logger}
}

// Open implements Factory by starting a dedicated browser.
func (f *ChromedpFactory) Open(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if f.proxy.Enabled() {
		f.logger.Info("Opening session through proxy", zap.String("proxy", f.proxy.Address()))
	}

	// Starting the browser with no actions launches the process.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(browserCtx)
	}()
	select {
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser canceled: %w", ctx.Err())
	case err := <-started:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	}

	return &chromedpSession{
		cfg:           f.cfg,
		proxy:         f.proxy,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (f *ChromedpFactory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	if f.proxy.Enabled() {
		opts = append(opts, chromedp.ProxyServer(f.proxy.URL()))
	}
	return opts
}

type chromedpSession struct {
	cfg   ChromedpConfig
	proxy *Proxy

	mu            sync.Mutex
	closed        bool
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// Load opens a fresh tab in the session's browser and captures the rendered DOM.
func (s *chromedpSession) Load(ctx context.Context, url string) (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	s.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, s.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)
	if s.proxy.hasCredentials() {
		chromedp.ListenTarget(tabCtx, proxyAuthListener(tabCtx, s.proxy))
	}

	start := time.Now()
	var (
		html     string
		finalURL string
		overlaps int
	)
	actions := []chromedp.Action{
		s.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.RenderWait > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.RenderWait))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(overlapScript, &overlaps),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return Snapshot{}, fmt.Errorf("chromedp run: %w", err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return Snapshot{
		URL:        url,
		FinalURL:   responseURL,
		StatusCode: status,
		Headers:    headers,
		HTML:       html,
		Duration:   time.Since(start),
		Layout:     &Layout{OverlappingPairs: overlaps},
	}, nil
}

// Close shuts down the browser process. It is safe to call more than once.
func (s *chromedpSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.browserCancel()
	s.allocCancel()
	return nil
}

func (s *chromedpSession) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if s.proxy.hasCredentials() {
			if err := fetch.Enable().WithHandleAuthRequests(true).Do(ctx); err != nil {
				return fmt.Errorf("enable fetch domain: %w", err)
			}
		}
		return nil
	})
}

func (s *chromedpSession) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// proxyAuthListener answers proxy authentication challenges and resumes
// requests paused by the fetch domain.
func proxyAuthListener(ctx context.Context, proxy *Proxy) func(any) {
	return func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				c := chromedp.FromContext(ctx)
				execCtx := cdp.WithExecutor(ctx, c.Target)
				_ = fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}).Do(execCtx)
			}()
		case *fetch.EventRequestPaused:
			go func() {
				c := chromedp.FromContext(ctx)
				execCtx := cdp.WithExecutor(ctx, c.Target)
				_ = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}()
		}
	}
}

// overlapScript counts pairs of visible text blocks inside the article whose
// boxes intersect without one containing the other.
const overlapScript = `(() => {
  const root = document.querySelector('article') || document.body;
  const nodes = Array.from(root.querySelectorAll('p, h1, h2, h3, h4, h5, h6, li, pre, blockquote'))
    .filter(n => n.offsetParent !== null && n.textContent.trim() !== '');
  const rects = nodes.map(n => n.getBoundingClientRect());
  let pairs = 0;
  for (let i = 0; i < nodes.length; i++) {
    for (let j = i + 1; j < nodes.length; j++) {
      if (nodes[i].contains(nodes[j]) || nodes[j].contains(nodes[i])) continue;
      const a = rects[i], b = rects[j];
      const w = Math.min(a.right, b.right) - Math.max(a.left, b.left);
      const h = Math.min(a.bottom, b.bottom) - Math.max(a.top, b.top);
      if (w > 1 && h > 1) pairs++;
    }
  }
  return pairs;
})()`

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep the first document response; later ones belong to iframes.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
