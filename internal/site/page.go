// Package site turns loaded article HTML into the typed predicates checks
// evaluate.
package site

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitecheck/internal/browser"
	"github.com/JakeFAU/sitecheck/internal/checks"
)

// Selectors locate the theme elements checks inspect.
type Selectors struct {
	Content           string   `mapstructure:"content"`
	CodeBlock         string   `mapstructure:"code_block"`
	ShortcodeTop      string   `mapstructure:"shortcode_top"`
	ShortcodeEnd      string   `mapstructure:"shortcode_end"`
	MetaDescription   string   `mapstructure:"meta_description"`
	MetaExcerpt       string   `mapstructure:"meta_excerpt"`
	OGImage           string   `mapstructure:"og_image"`
	TwitterImage      string   `mapstructure:"twitter_image"`
	PublishedTime     string   `mapstructure:"published_time"`
	SidebarOptin      string   `mapstructure:"sidebar_optin"`
	AfterContentOptin string   `mapstructure:"after_content_optin"`
	VATPrice          string   `mapstructure:"vat_price"`
	BrokenCodeMarkers []string `mapstructure:"broken_code_markers"`
}

// DefaultSelectors match the blog's WordPress theme.
func DefaultSelectors() Selectors {
	return Selectors{
		Content:           "article .post-content",
		CodeBlock:         "pre",
		ShortcodeTop:      ".short_box.short_start",
		ShortcodeEnd:      ".short_box.short_end",
		MetaDescription:   `meta[name="description"]`,
		MetaExcerpt:       `meta[property="og:description"]`,
		OGImage:           `meta[property="og:image"]`,
		TwitterImage:      `meta[name="twitter:image"]`,
		PublishedTime:     `meta[property="article:published_time"]`,
		SidebarOptin:      "#sidebar .optin-box",
		AfterContentOptin: ".after-post-content .optin-box",
		VATPrice:          ".price-incl-vat",
		BrokenCodeMarkers: []string{"[code", "[/code]", "```"},
	}
}

// withDefaults fills empty selectors from DefaultSelectors.
func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&s.Content, d.Content)
	fill(&s.CodeBlock, d.CodeBlock)
	fill(&s.ShortcodeTop, d.ShortcodeTop)
	fill(&s.ShortcodeEnd, d.ShortcodeEnd)
	fill(&s.MetaDescription, d.MetaDescription)
	fill(&s.MetaExcerpt, d.MetaExcerpt)
	fill(&s.OGImage, d.OGImage)
	fill(&s.TwitterImage, d.TwitterImage)
	fill(&s.PublishedTime, d.PublishedTime)
	fill(&s.SidebarOptin, d.SidebarOptin)
	fill(&s.AfterContentOptin, d.AfterContentOptin)
	fill(&s.VATPrice, d.VATPrice)
	if len(s.BrokenCodeMarkers) == 0 {
		s.BrokenCodeMarkers = d.BrokenCodeMarkers
	}
	return s
}

// Options configure parsing.
type Options struct {
	Selectors Selectors
	// DraftHost is the host of the staging site whose assets must never leak
	// into published articles.
	DraftHost string
}

// Page is a parsed article. It implements checks.Page.
type Page struct {
	url       string
	doc       *goquery.Document
	content   *goquery.Selection
	sel       Selectors
	draftHost string
	layout    *browser.Layout
}

var _ checks.Page = (*Page)(nil)

// Parse builds a Page from a snapshot.
func Parse(snap browser.Snapshot, opts Options) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	sel := opts.Selectors.withDefaults()
	content := doc.Find(sel.Content)
	if content.Length() == 0 {
		content = doc.Find("body")
	}
	pageURL := snap.URL
	if pageURL == "" {
		pageURL = snap.FinalURL
	}
	return &Page{
		url:       pageURL,
		doc:       doc,
		content:   content.First(),
		sel:       sel,
		draftHost: strings.ToLower(strings.TrimSpace(opts.DraftHost)),
		layout:    snap.Layout,
	}, nil
}

// URL returns the requested URL.
func (p *Page) URL() string {
	return p.url
}

// EmptyCodeBlocks counts code blocks with no text.
func (p *Page) EmptyCodeBlocks() int {
	n := 0
	p.content.Find(p.sel.CodeBlock).Each(func(_ int, s *goquery.Selection) {
		if strings.TrimSpace(s.Text()) == "" {
			n++
		}
	})
	return n
}

// ShortcodesAtTop counts top shortcode boxes in the article body.
func (p *Page) ShortcodesAtTop() int {
	return p.content.Find(p.sel.ShortcodeTop).Length()
}

// ShortcodesAtEnd counts end shortcode boxes in the article body.
func (p *Page) ShortcodesAtEnd() int {
	return p.content.Find(p.sel.ShortcodeEnd).Length()
}

// ImagesWithEmptyAlt returns the src of each article image lacking alt text.
func (p *Page) ImagesWithEmptyAlt() []string {
	var srcs []string
	p.content.Find("img").Each(func(_ int, s *goquery.Selection) {
		if alt, _ := s.Attr("alt"); strings.TrimSpace(alt) == "" {
			srcs = append(srcs, imageSource(s))
		}
	})
	return srcs
}

// MetaDescription returns the description meta tag content as published.
func (p *Page) MetaDescription() string {
	return p.rawMetaContent(p.sel.MetaDescription)
}

// MetaExcerpt returns the excerpt meta tag content as published.
func (p *Page) MetaExcerpt() string {
	return p.rawMetaContent(p.sel.MetaExcerpt)
}

// ImagesPointingToDraftSite returns image sources served from the draft host.
func (p *Page) ImagesPointingToDraftSite() []string {
	if p.draftHost == "" {
		return nil
	}
	var srcs []string
	p.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src := imageSource(s); p.onDraftHost(src) {
			srcs = append(srcs, src)
		}
	})
	return srcs
}

// AnchorsToImageOnDraftSite returns links to image files on the draft host.
func (p *Page) AnchorsToImageOnDraftSite() []string {
	if p.draftHost == "" {
		return nil
	}
	var hrefs []string
	p.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if p.onDraftHost(href) && isImagePath(href) {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

// OGImage returns the og:image URL.
func (p *Page) OGImage() string {
	return p.metaContent(p.sel.OGImage)
}

// TwitterImage returns the twitter:image URL.
func (p *Page) TwitterImage() string {
	return p.metaContent(p.sel.TwitterImage)
}

// BrokenCodeBlocks counts code blocks still showing raw shortcode or markdown
// fences, meaning the highlighter did not render them.
func (p *Page) BrokenCodeBlocks() int {
	n := 0
	p.content.Find(p.sel.CodeBlock).Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		for _, marker := range p.sel.BrokenCodeMarkers {
			if marker != "" && strings.Contains(text, marker) {
				n++
				return
			}
		}
	})
	return n
}

// OverlappingText returns the overlapping pairs measured by the browser.
func (p *Page) OverlappingText() (int, error) {
	if p.layout == nil {
		return 0, checks.ErrLayoutUnavailable
	}
	return p.layout.OverlappingPairs, nil
}

// OptinsInSidebar counts opt-in widgets in the sidebar.
func (p *Page) OptinsInSidebar() int {
	return p.doc.Find(p.sel.SidebarOptin).Length()
}

// OptinsInAfterPostContent counts opt-in widgets after the article body.
func (p *Page) OptinsInAfterPostContent() int {
	return p.doc.Find(p.sel.AfterContentOptin).Length()
}

// VATPricesAvailable reports whether VAT-inclusive prices are shown.
func (p *Page) VATPricesAvailable() bool {
	found := false
	p.doc.Find(p.sel.VATPrice).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = strings.TrimSpace(s.Text()) != ""
		return !found
	})
	return found
}

// PublishedAt returns the article publication time when present.
func (p *Page) PublishedAt() (time.Time, bool) {
	raw := p.metaContent(p.sel.PublishedTime)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AgeInWeeks returns whole weeks elapsed since publication relative to now.
func (p *Page) AgeInWeeks(now time.Time) (int, bool) {
	published, ok := p.PublishedAt()
	if !ok {
		return 0, false
	}
	weeks := now.Sub(published).Hours() / (24 * 7)
	if weeks < 0 {
		return 0, true
	}
	return int(math.Floor(weeks)), true
}

func (p *Page) metaContent(selector string) string {
	return strings.TrimSpace(p.rawMetaContent(selector))
}

// rawMetaContent keeps surrounding whitespace so text comparisons see it.
func (p *Page) rawMetaContent(selector string) string {
	content, _ := p.doc.Find(selector).First().Attr("content")
	return content
}

func (p *Page) onDraftHost(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), p.draftHost)
}

func imageSource(s *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func isImagePath(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"} {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}
