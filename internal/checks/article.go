package checks

import (
	"context"
	"fmt"
	"strings"
)

// ArticleChecks returns fresh instances of the article page checks.
func ArticleChecks() []Check {
	return []Check{
		NewFunc(EmptyCodeBlock, emptyCodeBlock),
		NewFunc(ShortcodeTop, shortcodeAtTop, JavaWeeklyPattern),
		NewFunc(ShortcodeEnd, shortcodeAtEnd, JavaWeeklyPattern),
		NewFunc(ImageAlt, imageAlt),
		NewFunc(ExcerptDescription, excerptDescription),
		NewFunc(DraftSiteLinks, draftSiteLinks),
		NewFunc(MetaImageAbsolute, metaImageAbsolute),
		NewFunc(CodeBlockRendering, codeBlockRendering, JavaWeeklyPattern),
		NewFunc(OverlappingText, overlappingText),
		NewFunc(SidebarOptin, sidebarOptin),
		NewFunc(AfterContentOptin, afterContentOptin),
	}
}

func emptyCodeBlock(_ context.Context, p Page) Outcome {
	if n := p.EmptyCodeBlocks(); n > 0 {
		return Fail(n, fmt.Sprintf("%d empty code block(s)", n))
	}
	return Pass()
}

func shortcodeAtTop(_ context.Context, p Page) Outcome {
	if n := p.ShortcodesAtTop(); n != 1 {
		return Fail(1, fmt.Sprintf("expected 1 shortcode at top, found %d", n))
	}
	return Pass()
}

func shortcodeAtEnd(_ context.Context, p Page) Outcome {
	if n := p.ShortcodesAtEnd(); n != 1 {
		return Fail(1, fmt.Sprintf("expected 1 shortcode at end, found %d", n))
	}
	return Pass()
}

func imageAlt(_ context.Context, p Page) Outcome {
	srcs := p.ImagesWithEmptyAlt()
	if len(srcs) == 0 {
		return Pass()
	}
	return Fail(len(srcs), strings.Join(srcs, ", "))
}

// excerptDescription requires a non-blank excerpt equal to the description,
// whitespace included.
func excerptDescription(_ context.Context, p Page) Outcome {
	description := p.MetaDescription()
	excerpt := p.MetaExcerpt()
	if strings.TrimSpace(excerpt) != "" && description == excerpt {
		return Pass()
	}
	return Fail(1, fmt.Sprintf("description : [%s], excerpt : [%s]", description, excerpt))
}

func draftSiteLinks(_ context.Context, p Page) Outcome {
	images := p.ImagesPointingToDraftSite()
	anchors := p.AnchorsToImageOnDraftSite()
	total := len(images) + len(anchors)
	if total == 0 {
		return Pass()
	}
	var parts []string
	if len(images) > 0 {
		parts = append(parts, "images: "+strings.Join(images, ", "))
	}
	if len(anchors) > 0 {
		parts = append(parts, "anchors: "+strings.Join(anchors, ", "))
	}
	return Fail(total, strings.Join(parts, "; "))
}

func metaImageAbsolute(_ context.Context, p Page) Outcome {
	var bad []string
	if og := p.OGImage(); !isAbsoluteURL(og) {
		bad = append(bad, fmt.Sprintf("og:image [%s]", og))
	}
	if tw := p.TwitterImage(); !isAbsoluteURL(tw) {
		bad = append(bad, fmt.Sprintf("twitter:image [%s]", tw))
	}
	if len(bad) == 0 {
		return Pass()
	}
	return Fail(len(bad), strings.Join(bad, ", "))
}

func codeBlockRendering(_ context.Context, p Page) Outcome {
	if n := p.BrokenCodeBlocks(); n > 0 {
		return Fail(n, fmt.Sprintf("%d code block(s) not rendered", n))
	}
	return Pass()
}

func overlappingText(_ context.Context, p Page) Outcome {
	n, err := p.OverlappingText()
	if err != nil {
		return Errored(fmt.Errorf("measure overlapping text: %w", err))
	}
	if n > 0 {
		return Fail(n, fmt.Sprintf("%d overlapping text element pair(s)", n))
	}
	return Pass()
}

func sidebarOptin(_ context.Context, p Page) Outcome {
	if n := p.OptinsInSidebar(); n != 1 {
		return Fail(1, fmt.Sprintf("expected 1 optin in sidebar, found %d", n))
	}
	return Pass()
}

func afterContentOptin(_ context.Context, p Page) Outcome {
	if n := p.OptinsInAfterPostContent(); n != 1 {
		return Fail(1, fmt.Sprintf("expected 1 optin after post content, found %d", n))
	}
	return Pass()
}

func isAbsoluteURL(u string) bool {
	u = strings.TrimSpace(u)
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}
