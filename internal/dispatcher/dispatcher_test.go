package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
	"github.com/JakeFAU/sitecheck/internal/corpus"
	"github.com/JakeFAU/sitecheck/internal/policy/skip"
	"github.com/JakeFAU/sitecheck/internal/report"
)

const (
	cleanHTML = `<html><body><article><div class="post-content"><pre>int x = 1;</pre></div></article></body></html>`
	emptyHTML = `<html><body><article><div class="post-content"><pre> </pre></div></article></body></html>`
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeIDs struct{}

func (fakeIDs) NewID() (string, error) { return "run-1", nil }

// fakeSite serves HTML per URL and tracks sessions and loads.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]string
	loadErr map[string]error
	loads   map[string]int
	opened  atomic.Int32
	closed  atomic.Int32
	openErr error
}

func newFakeSite(pages map[string]string) *fakeSite {
	return &fakeSite{pages: pages, loadErr: map[string]error{}, loads: map[string]int{}}
}

func (s *fakeSite) Open(context.Context) (browser.Session, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened.Add(1)
	return &fakeSession{site: s}, nil
}

func (s *fakeSite) loadCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[url]
}

type fakeSession struct {
	site *fakeSite
}

func (f *fakeSession) Load(_ context.Context, url string) (browser.Snapshot, error) {
	f.site.mu.Lock()
	defer f.site.mu.Unlock()
	f.site.loads[url]++
	if err := f.site.loadErr[url]; err != nil {
		return browser.Snapshot{}, err
	}
	html, ok := f.site.pages[url]
	if !ok {
		html = cleanHTML
	}
	return browser.Snapshot{URL: url, HTML: html, Layout: &browser.Layout{}}, nil
}

func (f *fakeSession) Close() error {
	f.site.closed.Add(1)
	return nil
}

func emptyCodeBlockCheck(t *testing.T) checks.Check {
	t.Helper()
	c, ok := checks.DefaultRegistry().Get(checks.EmptyCodeBlock)
	require.True(t, ok)
	return c
}

func newDispatcher(workers int, sessions browser.Factory, selected []checks.Check, policy *skip.Policy) *Dispatcher {
	return New(
		Config{Scenario: "test", Workers: workers},
		sessions,
		selected,
		policy,
		fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		fakeIDs{},
		zap.NewNop(),
	)
}

func TestRunReportsEachFailingURL(t *testing.T) {
	t.Parallel()

	urls := []string{"https://b.example/1", "https://b.example/2", "https://b.example/3"}
	site := newFakeSite(map[string]string{
		urls[0]: emptyHTML,
		urls[1]: cleanHTML,
		urls[2]: emptyHTML,
	})
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	res, err := newDispatcher(2, site, []checks.Check{emptyCodeBlockCheck(t)}, nil).Run(context.Background(), c)

	var suiteErr *report.SuiteError
	require.ErrorAs(t, err, &suiteErr)
	records := res.Failures.ForCheck(string(checks.EmptyCodeBlock))
	require.Len(t, records, 2)
	got := map[string]bool{records[0].URL: true, records[1].URL: true}
	assert.Equal(t, map[string]bool{urls[0]: true, urls[2]: true}, got)
	assert.Equal(t, 2, suiteErr.Total())
	assert.Contains(t, err.Error(), "1 empty code block(s)")

	counts := res.Recorder.Counts(string(checks.EmptyCodeBlock))
	assert.Equal(t, 3, counts.Attempted)
	assert.Equal(t, 1, counts.Passed)
	assert.Equal(t, 2, counts.Failed)

	summary := res.Summary()
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.TotalFailures())
}

func TestRunProcessesEveryURLExactlyOnce(t *testing.T) {
	t.Parallel()

	urls := make([]string, 300)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://b.example/article-%d", i)
	}
	site := newFakeSite(nil)
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	res, err := newDispatcher(8, site, []checks.Check{emptyCodeBlockCheck(t)}, nil).Run(context.Background(), c)
	require.NoError(t, err)

	for _, u := range urls {
		require.Equalf(t, 1, site.loadCount(u), "url %s", u)
	}
	assert.Equal(t, len(urls), res.Stats.Served)
	assert.Zero(t, res.Unserved)
	assert.Equal(t, len(urls), res.Recorder.Counts(string(checks.EmptyCodeBlock)).Attempted)
	assert.Equal(t, int32(8), site.opened.Load())
	assert.Equal(t, site.opened.Load(), site.closed.Load())
}

func TestRunLogsFailingChecksAndCursorTotals(t *testing.T) {
	t.Parallel()

	urls := []string{"https://b.example/1", "https://b.example/2"}
	site := newFakeSite(map[string]string{urls[0]: emptyHTML, urls[1]: cleanHTML})
	c, err := corpus.New("", urls)
	require.NoError(t, err)
	core, logs := observer.New(zap.InfoLevel)
	d := New(
		Config{Scenario: "test", Workers: 1},
		site,
		[]checks.Check{emptyCodeBlockCheck(t)},
		nil,
		fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		fakeIDs{},
		zap.New(core),
	)

	_, err = d.Run(context.Background(), c)
	require.Error(t, err)

	failed := logs.FilterMessage("Check failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, string(checks.EmptyCodeBlock), failed[0].ContextMap()["check"])
	assert.Equal(t, int64(1), failed[0].ContextMap()["urls"])

	finished := logs.FilterMessage("Run finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, int64(2), finished[0].ContextMap()["served"])
	assert.Equal(t, int64(0), finished[0].ContextMap()["unserved"])
}

func TestSkippedCheckContributesNoPassOrFail(t *testing.T) {
	t.Parallel()

	urls := []string{"https://b.example/1", "https://b.example/java-weekly-12"}
	site := newFakeSite(map[string]string{urls[0]: emptyHTML, urls[1]: emptyHTML})
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	policy := skip.New(skip.Config{Rules: map[string]skip.Rule{
		string(checks.EmptyCodeBlock): {SkipURLs: []string{urls[0]}},
	}})
	shortcode, _ := checks.DefaultRegistry().Get(checks.ShortcodeTop)

	res, err := newDispatcher(1, site, []checks.Check{emptyCodeBlockCheck(t), shortcode}, policy).Run(context.Background(), c)
	require.Error(t, err)

	empty := res.Recorder.Counts(string(checks.EmptyCodeBlock))
	assert.Equal(t, 1, empty.Skipped)
	assert.Equal(t, 1, empty.Attempted)
	assert.Equal(t, 1, empty.Failed)
	assert.Equal(t, urls[1], res.Failures.ForCheck(string(checks.EmptyCodeBlock))[0].URL)

	top := res.Recorder.Counts(string(checks.ShortcodeTop))
	assert.Equal(t, 1, top.Skipped, "java weekly digest is exempt from shortcode rules")
	assert.Equal(t, 1, top.Failed)
}

func TestPagesInsideAgeWindowDrainWithoutChecks(t *testing.T) {
	t.Parallel()

	fresh := `<html><head><meta property="article:published_time" content="2026-09-28T00:00:00Z"></head>` +
		`<body><pre></pre></body></html>`
	urls := []string{"https://b.example/1", "https://b.example/2"}
	site := newFakeSite(map[string]string{urls[0]: fresh, urls[1]: fresh})
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	policy := skip.New(skip.Config{IgnoreNewerThanWeeks: 2})
	res, err := newDispatcher(2, site, []checks.Check{emptyCodeBlockCheck(t)}, policy).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.Skipped)
	assert.Zero(t, res.Stats.Loaded)
	assert.Zero(t, res.Recorder.Counts(string(checks.EmptyCodeBlock)).Attempted)
}

func TestGlobalExclusionSkipsBeforeLoading(t *testing.T) {
	t.Parallel()

	urls := []string{"https://b.example/tag/java", "https://b.example/a"}
	site := newFakeSite(nil)
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	policy := skip.New(skip.Config{Rules: map[string]skip.Rule{
		skip.GlobalRule: {ExcludePatterns: []string{"/tag/"}},
	}})
	res, err := newDispatcher(1, site, []checks.Check{emptyCodeBlockCheck(t)}, policy).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Zero(t, site.loadCount(urls[0]))
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.Equal(t, 1, res.Stats.Loaded)
}

func TestCheckErrorsAreInconclusive(t *testing.T) {
	t.Parallel()

	panicking := checks.NewFunc("panics", func(context.Context, checks.Page) checks.Outcome {
		panic("stale element")
	})
	erroring := checks.NewFunc("errors", func(context.Context, checks.Page) checks.Outcome {
		return checks.Errored(errors.New("timeout waiting for element"))
	})
	urls := []string{"https://b.example/1", "https://b.example/2"}
	site := newFakeSite(nil)
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	res, err := newDispatcher(2, site, []checks.Check{panicking, erroring, emptyCodeBlockCheck(t)}, nil).
		Run(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, res.Failures.IsEmpty())

	for _, key := range []string{"panics", "errors"} {
		counts := res.Recorder.Counts(key)
		assert.Equal(t, 2, counts.Attempted)
		assert.Equal(t, 2, counts.Errored)
		assert.Zero(t, counts.Passed+counts.Failed)
	}
	assert.Equal(t, 2, res.Recorder.Counts(string(checks.EmptyCodeBlock)).Passed)
}

func TestLoadErrorsAreInconclusive(t *testing.T) {
	t.Parallel()

	urls := []string{"https://b.example/1", "https://b.example/2"}
	site := newFakeSite(nil)
	site.loadErr[urls[0]] = errors.New("net::ERR_CONNECTION_RESET")
	c, err := corpus.New("", urls)
	require.NoError(t, err)

	res, err := newDispatcher(1, site, []checks.Check{emptyCodeBlockCheck(t)}, nil).Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.LoadErrors)
	counts := res.Recorder.Counts(string(checks.EmptyCodeBlock))
	assert.Equal(t, 1, counts.Errored)
	assert.Equal(t, 1, counts.Passed)
}

func TestNoSessions(t *testing.T) {
	t.Parallel()

	site := newFakeSite(nil)
	site.openErr = errors.New("chrome not found")
	c, err := corpus.New("", []string{"https://b.example/1", "https://b.example/2"})
	require.NoError(t, err)

	_, err = newDispatcher(2, site, []checks.Check{emptyCodeBlockCheck(t)}, nil).Run(context.Background(), c)
	require.ErrorIs(t, err, ErrNoSessions)
	assert.Contains(t, err.Error(), "chrome not found")
}

func TestCanceledRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	site := newFakeSite(nil)
	c, err := corpus.New("", []string{"https://b.example/1"})
	require.NoError(t, err)

	res, err := newDispatcher(1, site, nil, nil).Run(ctx, c)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Unserved)
	assert.Equal(t, site.opened.Load(), site.closed.Load())
}

func TestPoolSize(t *testing.T) {
	t.Parallel()

	d := newDispatcher(0, newFakeSite(nil), nil, nil)
	assert.Equal(t, 1, d.poolSize(1))
	assert.Positive(t, d.poolSize(1000))
	assert.Zero(t, d.poolSize(0))
}
