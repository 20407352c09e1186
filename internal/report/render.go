package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects a report encoding.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name. Empty selects text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// ContentType returns the MIME type used when a report is uploaded.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatYAML:
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return "txt"
	}
}

// CheckCounts is the per-check execution tally carried in a summary.
type CheckCounts struct {
	Attempted int `json:"attempted" yaml:"attempted"`
	Passed    int `json:"passed" yaml:"passed"`
	Failed    int `json:"failed" yaml:"failed"`
	Errored   int `json:"errored" yaml:"errored"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// Summary is everything known about a finished run.
type Summary struct {
	RunID      string                 `json:"run_id" yaml:"run_id"`
	Scenario   string                 `json:"scenario" yaml:"scenario"`
	StartedAt  time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time              `json:"finished_at" yaml:"finished_at"`
	URLs       int                    `json:"urls" yaml:"urls"`
	Skipped    int                    `json:"skipped_urls" yaml:"skipped_urls"`
	LoadErrors int                    `json:"load_errors" yaml:"load_errors"`
	Workers    int                    `json:"workers" yaml:"workers"`
	Checks     map[string]CheckCounts `json:"checks" yaml:"checks"`
	Failures   []Group                `json:"failures" yaml:"failures"`
}

// Passed reports whether the run recorded no failures.
func (s Summary) Passed() bool {
	return len(s.Failures) == 0
}

// TotalFailures counts every record across groups.
func (s Summary) TotalFailures() int {
	n := 0
	for _, g := range s.Failures {
		n += len(g.Records)
	}
	return n
}

// Render writes s to w in the given format.
func Render(w io.Writer, format Format, s Summary) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close yaml encoder: %w", err)
		}
		return nil
	case FormatText, "":
		if _, err := io.WriteString(w, renderText(s)); err != nil {
			return fmt.Errorf("write text report: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func renderText(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s (run %s): %d url(s), %d skipped, %d load error(s), %d failure(s)\n",
		s.Scenario, s.RunID, s.URLs, s.Skipped, s.LoadErrors, s.TotalFailures())
	b.WriteString(GroupsText(s.Failures))
	return b.String()
}

// GroupsText renders failure groups as one block per check with one
// "URL ( detail )" line per record.
func GroupsText(groups []Group) string {
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s (%d):\n", g.Check, len(g.Records))
		for _, rec := range g.Records {
			if rec.Detail == "" {
				fmt.Fprintf(&b, "  %s\n", rec.URL)
				continue
			}
			fmt.Fprintf(&b, "  %s ( %s )\n", rec.URL, rec.Detail)
		}
	}
	return b.String()
}
