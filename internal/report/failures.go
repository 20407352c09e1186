// Package report collects failure records during a run and renders them.
package report

import (
	"sync"
)

// Record is one failed evaluation of a check against a URL.
type Record struct {
	Check  string `json:"check" yaml:"check"`
	URL    string `json:"url" yaml:"url"`
	Detail string `json:"detail" yaml:"detail"`
	Count  int    `json:"count" yaml:"count"`
}

// Group holds every record of one check in insertion order.
type Group struct {
	Check   string   `json:"check" yaml:"check"`
	Records []Record `json:"records" yaml:"records"`
}

// Failures is a concurrency-safe multimap of check key to failure records.
// Records are never removed.
type Failures struct {
	mu      sync.Mutex
	order   []string
	byCheck map[string][]Record
	total   int
}

// NewFailures returns an empty aggregator.
func NewFailures() *Failures {
	return &Failures{byCheck: make(map[string][]Record)}
}

// Add appends a record under its check key.
func (f *Failures) Add(rec Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byCheck[rec.Check]; !ok {
		f.order = append(f.order, rec.Check)
	}
	f.byCheck[rec.Check] = append(f.byCheck[rec.Check], rec)
	f.total++
}

// Record is shorthand for Add.
func (f *Failures) Record(check, url, detail string, count int) {
	f.Add(Record{Check: check, URL: url, Detail: detail, Count: count})
}

// Len returns the total number of records.
func (f *Failures) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// IsEmpty reports whether no failure has been recorded.
func (f *Failures) IsEmpty() bool {
	return f.Len() == 0
}

// Groups returns a copy of all records grouped by check, ordered by the first
// insertion of each check.
func (f *Failures) Groups() []Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	groups := make([]Group, 0, len(f.order))
	for _, check := range f.order {
		groups = append(groups, Group{
			Check:   check,
			Records: append([]Record(nil), f.byCheck[check]...),
		})
	}
	return groups
}

// ForCheck returns a copy of the records of one check.
func (f *Failures) ForCheck(check string) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.byCheck[check]...)
}
