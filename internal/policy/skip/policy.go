// Package skip decides whether a check runs against a URL.
package skip

import (
	"net/url"
	"strings"
	"sync"
)

// GlobalRule is the rule key applied to whole URLs before any check runs.
const GlobalRule = "*"

// Age is the published age of a page in whole weeks. Unknown ages never
// trigger an age-based skip.
type Age struct {
	Weeks int
	Known bool
}

// UnknownAge is the zero Age.
var UnknownAge = Age{}

// WeeksOld returns a known age.
func WeeksOld(weeks int) Age {
	return Age{Weeks: weeks, Known: true}
}

// Rule configures skipping for one check key or for GlobalRule.
type Rule struct {
	Disabled        bool     `mapstructure:"disabled" json:"disabled" yaml:"disabled"`
	SkipURLs        []string `mapstructure:"skip_urls" json:"skip_urls" yaml:"skip_urls"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" json:"exclude_patterns" yaml:"exclude_patterns"`
	// IgnoreNewerThanWeeks overrides the policy-wide window when set.
	IgnoreNewerThanWeeks *int `mapstructure:"ignore_newer_than_weeks" json:"ignore_newer_than_weeks,omitempty" yaml:"ignore_newer_than_weeks,omitempty"`
}

// Config is the full skip configuration.
type Config struct {
	IgnoreNewerThanWeeks int             `mapstructure:"ignore_newer_than_weeks"`
	Rules                map[string]Rule `mapstructure:"rules"`
}

// Policy evaluates skip rules. It is safe for concurrent use; decisions are
// computed on every call and never cached.
type Policy struct {
	mu     sync.RWMutex
	window int
	rules  map[string]Rule
}

// New builds a Policy from cfg. Rule keys are case-insensitive.
func New(cfg Config) *Policy {
	rules := make(map[string]Rule, len(cfg.Rules))
	for k, r := range cfg.Rules {
		rules[strings.ToLower(k)] = cloneRule(r)
	}
	window := cfg.IgnoreNewerThanWeeks
	if window < 0 {
		window = 0
	}
	return &Policy{window: window, rules: rules}
}

// Window returns the policy-wide age window in weeks.
func (p *Policy) Window() int {
	return p.window
}

// Exempt adds category exclusion patterns to the rule for key.
func (p *Policy) Exempt(key string, patterns ...string) {
	if len(patterns) == 0 {
		return
	}
	key = strings.ToLower(key)
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.rules[key]
	r.ExcludePatterns = append(r.ExcludePatterns, patterns...)
	p.rules[key] = r
}

// ShouldSkipURL reports whether the whole URL is discarded without running any
// check: the page is newer than the window, or GlobalRule excludes it.
func (p *Policy) ShouldSkipURL(rawURL string, age Age) bool {
	p.mu.RLock()
	global, ok := p.rules[GlobalRule]
	p.mu.RUnlock()
	if tooNew(age, p.window) {
		return true
	}
	if !ok {
		return false
	}
	return global.Disabled || matchesRule(global, rawURL)
}

// ShouldSkip reports whether check key must not run against rawURL.
func (p *Policy) ShouldSkip(key, rawURL string, age Age) bool {
	p.mu.RLock()
	r, ok := p.rules[strings.ToLower(key)]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	if r.Disabled {
		return true
	}
	if r.IgnoreNewerThanWeeks != nil && tooNew(age, *r.IgnoreNewerThanWeeks) {
		return true
	}
	return matchesRule(r, rawURL)
}

func tooNew(age Age, window int) bool {
	return window > 0 && age.Known && age.Weeks < window
}

func matchesRule(r Rule, rawURL string) bool {
	lowered := strings.ToLower(rawURL)
	for _, pattern := range r.ExcludePatterns {
		if pattern = strings.ToLower(strings.TrimSpace(pattern)); pattern != "" && strings.Contains(lowered, pattern) {
			return true
		}
	}
	for _, entry := range r.SkipURLs {
		if sameURL(entry, rawURL) {
			return true
		}
	}
	return false
}

// sameURL matches absolute entries exactly and relative entries by path, both
// ignoring a trailing slash.
func sameURL(entry, rawURL string) bool {
	entry = strings.TrimSuffix(strings.TrimSpace(entry), "/")
	if entry == "" {
		return false
	}
	target := strings.TrimSuffix(rawURL, "/")
	if strings.HasPrefix(entry, "http://") || strings.HasPrefix(entry, "https://") {
		return entry == target
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(entry, "/") {
		entry = "/" + entry
	}
	return strings.TrimSuffix(u.Path, "/") == entry
}

func cloneRule(r Rule) Rule {
	r.SkipURLs = append([]string(nil), r.SkipURLs...)
	r.ExcludePatterns = append([]string(nil), r.ExcludePatterns...)
	if r.IgnoreNewerThanWeeks != nil {
		w := *r.IgnoreNewerThanWeeks
		r.IgnoreNewerThanWeeks = &w
	}
	return r
}
