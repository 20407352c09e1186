package report

import "fmt"

// SuiteError is the single aggregate failure raised when a scenario finishes
// with recorded failures. Its message is the full grouped report.
type SuiteError struct {
	Scenario string
	Groups   []Group
}

// NewSuiteError snapshots f into a SuiteError, or returns nil when f is empty.
func NewSuiteError(scenario string, f *Failures) *SuiteError {
	if f == nil || f.IsEmpty() {
		return nil
	}
	return &SuiteError{Scenario: scenario, Groups: f.Groups()}
}

// Total counts every failure record.
func (e *SuiteError) Total() int {
	n := 0
	for _, g := range e.Groups {
		n += len(g.Records)
	}
	return n
}

func (e *SuiteError) Error() string {
	return fmt.Sprintf("scenario %s failed with %d failure(s):\n%s", e.Scenario, e.Total(), GroupsText(e.Groups))
}
