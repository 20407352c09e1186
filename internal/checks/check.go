// Package checks defines the validation rules evaluated against every loaded
// article page and the registry that holds them.
package checks

import (
	"context"
	"errors"
	"fmt"
)

// Key identifies a check in skip rules, metrics and reports.
type Key string

// Stable check keys.
const (
	EmptyCodeBlock     Key = "empty-code-block"
	ShortcodeTop       Key = "shortcode-top"
	ShortcodeEnd       Key = "shortcode-end"
	ImageAlt           Key = "image-alt"
	ExcerptDescription Key = "excerpt-description"
	DraftSiteLinks     Key = "draft-site-links"
	MetaImageAbsolute  Key = "meta-image-absolute"
	CodeBlockRendering Key = "code-block-rendering"
	OverlappingText    Key = "overlapping-text"
	SidebarOptin       Key = "sidebar-optin"
	AfterContentOptin  Key = "after-content-optin"
	VATPricing         Key = "vat-pricing"
)

// JavaWeeklyPattern matches the recurring weekly digest articles, which use a
// different layout and are exempt from shortcode and code block rules.
const JavaWeeklyPattern = "java-weekly"

// ErrLayoutUnavailable is returned by pages that were not rendered by a browser.
var ErrLayoutUnavailable = errors.New("page layout unavailable")

// Page is the read-only view of a loaded article that checks evaluate.
type Page interface {
	URL() string
	EmptyCodeBlocks() int
	ShortcodesAtTop() int
	ShortcodesAtEnd() int
	ImagesWithEmptyAlt() []string
	MetaDescription() string
	MetaExcerpt() string
	ImagesPointingToDraftSite() []string
	AnchorsToImageOnDraftSite() []string
	OGImage() string
	TwitterImage() string
	BrokenCodeBlocks() int
	OverlappingText() (int, error)
	OptinsInSidebar() int
	OptinsInAfterPostContent() int
	VATPricesAvailable() bool
}

// Check is a single independent validation rule.
type Check interface {
	Key() Key
	Evaluate(ctx context.Context, page Page) Outcome
}

// Exempter is implemented by checks that exclude whole content categories by
// URL pattern regardless of configuration.
type Exempter interface {
	ExemptPatterns() []string
}

// Status is the result class of one evaluation.
type Status int

// Outcome statuses.
const (
	StatusPass Status = iota
	StatusFail
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of evaluating one check against one page.
type Outcome struct {
	Status Status
	Count  int
	Detail string
	Err    error
}

// Pass reports a page that satisfies the rule.
func Pass() Outcome {
	return Outcome{Status: StatusPass}
}

// Fail reports count violations described by detail.
func Fail(count int, detail string) Outcome {
	if count < 1 {
		count = 1
	}
	return Outcome{Status: StatusFail, Count: count, Detail: detail}
}

// Errored reports an inconclusive evaluation.
func Errored(err error) Outcome {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return Outcome{Status: StatusError, Detail: detail, Err: err}
}

// Func adapts a plain function into a Check.
type Func struct {
	key    Key
	exempt []string
	eval   func(ctx context.Context, page Page) Outcome
}

// NewFunc builds a Check from eval. Exempt patterns are optional.
func NewFunc(key Key, eval func(ctx context.Context, page Page) Outcome, exempt ...string) *Func {
	return &Func{key: key, eval: eval, exempt: exempt}
}

// Key implements Check.
func (f *Func) Key() Key {
	return f.key
}

// Evaluate implements Check.
func (f *Func) Evaluate(ctx context.Context, page Page) Outcome {
	return f.eval(ctx, page)
}

// ExemptPatterns implements Exempter.
func (f *Func) ExemptPatterns() []string {
	return append([]string(nil), f.exempt...)
}
