// Package scenario names the validation runs a user can invoke and drives
// them through the dispatcher.
package scenario

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/sitecheck/internal/checks"
)

// AllTechnical runs every article check in one pass over the corpus.
const AllTechnical = "all-technical"

// Scenario is one independently invocable validation run.
type Scenario struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Checks      []checks.Key `json:"checks"`
}

var descriptions = map[checks.Key]string{
	checks.EmptyCodeBlock:     "articles must not contain empty code blocks",
	checks.ShortcodeTop:       "articles carry exactly one shortcode at the top",
	checks.ShortcodeEnd:       "articles carry exactly one shortcode at the end",
	checks.ImageAlt:           "every content image has alt text",
	checks.ExcerptDescription: "meta description matches the excerpt",
	checks.DraftSiteLinks:     "no images or image links point to the draft site",
	checks.MetaImageAbsolute:  "og:image and twitter:image are absolute URLs",
	checks.CodeBlockRendering: "no code block is left unrendered",
	checks.OverlappingText:    "no text elements overlap",
	checks.SidebarOptin:       "the sidebar has exactly one optin",
	checks.AfterContentOptin:  "exactly one optin follows the post content",
}

// Catalog returns the single-check scenarios of r in registration order,
// followed by AllTechnical.
func Catalog(r *checks.Registry) []Scenario {
	keys := r.Keys()
	out := make([]Scenario, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, Scenario{Name: string(k), Description: descriptions[k], Checks: []checks.Key{k}})
	}
	out = append(out, Scenario{
		Name:        AllTechnical,
		Description: "every article check, reporting all violations together",
		Checks:      keys,
	})
	return out
}

// Lookup finds the scenario called name.
func Lookup(r *checks.Registry, name string) (Scenario, error) {
	for _, s := range Catalog(r) {
		if s.Name == name {
			return s, nil
		}
	}
	return Scenario{}, fmt.Errorf("unknown scenario %q", name)
}

// Names lists scenario names sorted alphabetically.
func Names(r *checks.Registry) []string {
	cat := Catalog(r)
	names := make([]string, 0, len(cat))
	for _, s := range cat {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}
