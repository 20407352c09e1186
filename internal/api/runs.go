package api

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sitecheck/internal/report"
)

// ErrRunNotFound is returned for unknown run handles.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a triggered run.
type RunStatus string

// Run statuses.
const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
)

func (s RunStatus) terminal() bool {
	return s == RunPassed || s == RunFailed || s == RunError
}

// Run is the API view of one triggered scenario.
type Run struct {
	ID        string          `json:"id"`
	Scenario  string          `json:"scenario"`
	Status    RunStatus       `json:"status"`
	Submitted time.Time       `json:"submitted"`
	Started   *time.Time      `json:"started,omitempty"`
	Finished  *time.Time      `json:"finished,omitempty"`
	Error     string          `json:"error,omitempty"`
	Summary   *report.Summary `json:"summary,omitempty"`
}

// RunStore keeps triggered runs in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]Run)}
}

// Create stores a new queued run.
func (s *RunStore) Create(run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	run.Status = RunQueued
	s.runs[run.ID] = run
	return nil
}

// Update moves a run to status, stamping start and finish times.
func (s *RunStore) Update(id string, status RunStatus, at time.Time, summary *report.Summary, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	if status == RunRunning && run.Started == nil {
		run.Started = &at
	}
	if status.terminal() {
		run.Finished = &at
	}
	if summary != nil {
		run.Summary = summary
	}
	run.Error = errText
	s.runs[id] = run
	return nil
}

// Get fetches a run by handle.
func (s *RunStore) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

// List returns every run, newest submission first.
func (s *RunStore) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Submitted.After(out[j].Submitted) })
	return out
}
