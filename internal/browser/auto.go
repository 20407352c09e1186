package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Promoter decides whether a statically fetched page must be reloaded in a
// rendering browser.
type Promoter struct {
	BodyLengthThreshold int
}

// NewPromoter creates a Promoter. A zero threshold selects 2048 bytes.
func NewPromoter(threshold int) *Promoter {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Promoter{BodyLengthThreshold: threshold}
}

var spaMarkers = []string{
	"__next",
	`id="root"`,
	`id="app"`,
	"data-reactroot",
}

// ShouldPromote reports whether snap looks like a client-rendered page.
func (p *Promoter) ShouldPromote(snap Snapshot) bool {
	if snap.StatusCode != http.StatusOK {
		return false
	}
	if len(snap.HTML) == 0 {
		return true
	}
	if len(snap.HTML) < p.BodyLengthThreshold && scriptShare(snap.HTML) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if strings.Contains(snap.HTML, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body bytes inside <script> elements.
func scriptShare(body string) int {
	lower := strings.ToLower(body)
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered := 0
	pos := 0
	for pos < total {
		rel := strings.Index(lower[pos:], "<script")
		if rel == -1 {
			break
		}
		start := pos + rel
		gt := strings.IndexByte(lower[start:], '>')
		if gt == -1 {
			covered += total - start
			break
		}
		end := total
		if rel := strings.Index(lower[start+gt+1:], "</script>"); rel != -1 {
			end = start + gt + 1 + rel + len("</script>")
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}

// AutoFactory opens sessions that fetch statically and fall back to a
// rendering session for pages the Promoter flags.
type AutoFactory struct {
	static   Factory
	rendered Factory
	promoter *Promoter
	logger   *zap.Logger
}

// NewAutoFactory combines a static and a rendering factory.
func NewAutoFactory(static, rendered Factory, promoter *Promoter, logger *zap.Logger) *AutoFactory {
	if promoter == nil {
		promoter = NewPromoter(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoFactory{static: static, rendered: rendered, promoter: promoter, logger: logger}
}

// Open implements Factory. The rendering session is opened on first promotion.
func (f *AutoFactory) Open(ctx context.Context) (Session, error) {
	s, err := f.static.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open static session: %w", err)
	}
	return &autoSession{factory: f, static: s}, nil
}

type autoSession struct {
	factory *AutoFactory

	mu       sync.Mutex
	static   Session
	rendered Session
}

func (s *autoSession) Load(ctx context.Context, url string) (Snapshot, error) {
	snap, err := s.static.Load(ctx, url)
	if err != nil {
		return Snapshot{}, err
	}
	if !s.factory.promoter.ShouldPromote(snap) {
		return snap, nil
	}
	s.factory.logger.Debug("Promoting page to rendering session", zap.String("url", url))

	s.mu.Lock()
	if s.rendered == nil {
		r, err := s.factory.rendered.Open(ctx)
		if err != nil {
			s.mu.Unlock()
			return Snapshot{}, fmt.Errorf("open rendering session: %w", err)
		}
		s.rendered = r
	}
	rendered := s.rendered
	s.mu.Unlock()
	return rendered.Load(ctx, url)
}

func (s *autoSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.static.Close()
	if s.rendered != nil {
		if rerr := s.rendered.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
