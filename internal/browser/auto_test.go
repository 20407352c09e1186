package browser

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoterShouldPromote(t *testing.T) {
	t.Parallel()

	p := NewPromoter(0)
	article := "<html><body><article>" + strings.Repeat("text ", 600) + "</article></body></html>"
	tests := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{"server rendered", Snapshot{StatusCode: http.StatusOK, HTML: article}, false},
		{"empty body", Snapshot{StatusCode: http.StatusOK}, true},
		{"react root", Snapshot{StatusCode: http.StatusOK, HTML: article + `<div id="root"></div>`}, true},
		{"script heavy", Snapshot{StatusCode: http.StatusOK, HTML: `<html><script src="a.js">var a = 1; var b = 2;</script><div></div></html>`}, true},
		{"not ok", Snapshot{StatusCode: http.StatusNotFound}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldPromote(tc.snap))
		})
	}
}

func TestScriptShareUnclosedTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, scriptShare(""))
	assert.Equal(t, 100, scriptShare("<script"))
	assert.Equal(t, 50, scriptShare("<script>ab</script>"+strings.Repeat("x", 19)))
}

type stubSession struct {
	html   string
	loads  atomic.Int32
	closed atomic.Bool
}

func (s *stubSession) Load(_ context.Context, url string) (Snapshot, error) {
	s.loads.Add(1)
	return Snapshot{URL: url, StatusCode: http.StatusOK, HTML: s.html}, nil
}

func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

func TestAutoSessionPromotesOnlyFlaggedPages(t *testing.T) {
	t.Parallel()

	static := &stubSession{html: `<div id="app"></div>`}
	rendered := &stubSession{html: "<article>rendered</article>"}
	var renderedOpens atomic.Int32
	f := NewAutoFactory(
		FactoryFunc(func(context.Context) (Session, error) { return static, nil }),
		FactoryFunc(func(context.Context) (Session, error) {
			renderedOpens.Add(1)
			return rendered, nil
		}),
		nil, nil,
	)

	s, err := f.Open(context.Background())
	require.NoError(t, err)

	for range 2 {
		snap, err := s.Load(context.Background(), "https://blog.example.com/a")
		require.NoError(t, err)
		assert.Equal(t, "<article>rendered</article>", snap.HTML)
	}
	assert.Equal(t, int32(1), renderedOpens.Load())
	assert.Equal(t, int32(2), rendered.loads.Load())

	static.html = "<article>" + strings.Repeat("plain ", 500) + "</article>"
	snap, err := s.Load(context.Background(), "https://blog.example.com/b")
	require.NoError(t, err)
	assert.Contains(t, snap.HTML, "plain")
	assert.Equal(t, int32(2), rendered.loads.Load())

	require.NoError(t, s.Close())
	assert.True(t, static.closed.Load())
	assert.True(t, rendered.closed.Load())
}
