package site

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
)

func loadFixture(t *testing.T, layout *browser.Layout) *Page {
	t.Helper()
	html, err := os.ReadFile("testdata/article.html")
	require.NoError(t, err)
	page, err := Parse(browser.Snapshot{
		URL:    "https://blog.example.com/java-streams",
		HTML:   string(html),
		Layout: layout,
	}, Options{DraftHost: "draft.example.com"})
	require.NoError(t, err)
	return page
}

func TestPagePredicates(t *testing.T) {
	t.Parallel()

	page := loadFixture(t, &browser.Layout{OverlappingPairs: 2})

	assert.Equal(t, "https://blog.example.com/java-streams", page.URL())
	assert.Equal(t, 1, page.EmptyCodeBlocks())
	assert.Equal(t, 1, page.ShortcodesAtTop())
	assert.Equal(t, 2, page.ShortcodesAtEnd())
	assert.Equal(t, []string{"https://draft.example.com/img/leak.png", "/img/lazy.png"}, page.ImagesWithEmptyAlt())
	assert.Equal(t, "Learn how Java streams work.", page.MetaDescription())
	assert.Equal(t, "Learn how Java streams work", page.MetaExcerpt())
	assert.Equal(t, []string{"https://draft.example.com/img/leak.png"}, page.ImagesPointingToDraftSite())
	assert.Equal(t, []string{"https://draft.example.com/img/full.jpg"}, page.AnchorsToImageOnDraftSite())
	assert.Equal(t, "/wp-content/uploads/streams.png", page.OGImage())
	assert.Equal(t, "https://blog.example.com/wp-content/uploads/streams.png", page.TwitterImage())
	assert.Equal(t, 1, page.BrokenCodeBlocks())
	assert.Equal(t, 1, page.OptinsInSidebar())
	assert.Equal(t, 0, page.OptinsInAfterPostContent())
	assert.False(t, page.VATPricesAvailable())

	overlaps, err := page.OverlappingText()
	require.NoError(t, err)
	assert.Equal(t, 2, overlaps)
}

func TestPageWithoutLayout(t *testing.T) {
	t.Parallel()

	page := loadFixture(t, nil)
	_, err := page.OverlappingText()
	assert.True(t, errors.Is(err, checks.ErrLayoutUnavailable))
}

func TestAgeInWeeks(t *testing.T) {
	t.Parallel()

	page := loadFixture(t, nil)
	published, ok := page.PublishedAt()
	require.True(t, ok)
	assert.Equal(t, 2026, published.Year())

	weeks, ok := page.AgeInWeeks(published.Add(20 * 24 * time.Hour))
	require.True(t, ok)
	assert.Equal(t, 2, weeks)

	weeks, ok = page.AgeInWeeks(published.Add(-time.Hour))
	require.True(t, ok)
	assert.Zero(t, weeks)

	bare, err := Parse(browser.Snapshot{URL: "u", HTML: "<html><body></body></html>"}, Options{})
	require.NoError(t, err)
	_, ok = bare.AgeInWeeks(time.Now())
	assert.False(t, ok)
}

func TestArticleChecksAgainstFixture(t *testing.T) {
	t.Parallel()

	page := loadFixture(t, &browser.Layout{})
	failing := map[checks.Key]bool{}
	for _, c := range checks.ArticleChecks() {
		out := c.Evaluate(t.Context(), page)
		if out.Status == checks.StatusFail {
			failing[c.Key()] = true
		}
	}
	assert.Equal(t, map[checks.Key]bool{
		checks.EmptyCodeBlock:     true,
		checks.ShortcodeEnd:       true,
		checks.ImageAlt:           true,
		checks.ExcerptDescription: true,
		checks.DraftSiteLinks:     true,
		checks.MetaImageAbsolute:  true,
		checks.CodeBlockRendering: true,
		checks.AfterContentOptin:  true,
	}, failing)
}

func TestVATPrices(t *testing.T) {
	t.Parallel()

	page, err := Parse(browser.Snapshot{HTML: `<div class="price-incl-vat">€49 incl. VAT</div>`}, Options{})
	require.NoError(t, err)
	assert.True(t, page.VATPricesAvailable())
	assert.Empty(t, page.ImagesPointingToDraftSite())
}

func TestMetaTextKeepsWhitespace(t *testing.T) {
	t.Parallel()

	page, err := Parse(browser.Snapshot{
		URL: "https://blog.example.com/a",
		HTML: `<html><head>
<meta name="description" content="Streams">
<meta property="og:description" content="Streams ">
<meta property="og:image" content=" /img/x.png ">
</head><body></body></html>`,
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Streams", page.MetaDescription())
	assert.Equal(t, "Streams ", page.MetaExcerpt())
	assert.Equal(t, "/img/x.png", page.OGImage())

	c, ok := checks.DefaultRegistry().Get(checks.ExcerptDescription)
	require.True(t, ok)
	assert.Equal(t, checks.StatusFail, c.Evaluate(context.Background(), page).Status)
}
