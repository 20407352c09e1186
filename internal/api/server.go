package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/dispatcher"
	"github.com/JakeFAU/sitecheck/internal/metrics"
	"github.com/JakeFAU/sitecheck/internal/report"
	"github.com/JakeFAU/sitecheck/internal/scenario"
)

// ScenarioRunner executes scenarios by name.
type ScenarioRunner interface {
	Catalog() []scenario.Scenario
	Run(ctx context.Context, name string) (dispatcher.Result, error)
	RunVAT(ctx context.Context) (report.Summary, error)
}

// IDGenerator creates run handles.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock stamps run lifecycle transitions.
type Clock interface {
	Now() time.Time
}

// Server wires HTTP handlers to the scenario runner.
type Server struct {
	router chi.Router
	runner ScenarioRunner
	runs   *RunStore
	ids    IDGenerator
	clock  Clock
	logger *zap.Logger

	// Runs share the site and the rate limiter, so only one executes at a time.
	mu     sync.Mutex
	active string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer constructs a Server with middleware and routes. httpMetrics may be nil.
func NewServer(
	runner ScenarioRunner,
	ids IDGenerator,
	clock Clock,
	gatherer prometheus.Gatherer,
	httpMetrics *metrics.HTTP,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner: runner,
		runs:   NewRunStore(),
		ids:    ids,
		clock:  clock,
		logger: logger.Named("api"),
		ctx:    ctx,
		cancel: cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(accessLog(s.logger))
	r.Use(recoverJSON(s.logger))
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler(gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/scenarios", s.listScenarios)
		r.Post("/scenarios/{name}/runs", s.startRun)
		r.Get("/runs", s.listRuns)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/report", s.getReport)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Runs exposes the run store.
func (s *Server) Runs() *RunStore {
	return s.runs
}

// Wait blocks until background runs finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels background runs and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listScenarios(w http.ResponseWriter, _ *http.Request) {
	cat := s.runner.Catalog()
	cat = append(cat, scenario.Scenario{
		Name:        scenario.VATScenario,
		Description: "course page shows VAT-inclusive prices to EU visitors",
	})
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": cat})
}

func (s *Server) known(name string) bool {
	if name == scenario.VATScenario {
		return true
	}
	for _, sc := range s.runner.Catalog() {
		if sc.Name == name {
			return true
		}
	}
	return false
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.known(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown scenario %q", name))
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	if s.active != "" {
		active := s.active
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress", "id": active})
		return
	}
	s.active = id
	s.mu.Unlock()

	if err := s.runs.Create(Run{ID: id, Scenario: name, Submitted: s.clock.Now()}); err != nil {
		s.release()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wg.Add(1)
	go s.execute(id, name)

	w.Header().Set("Location", "/v1/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(RunQueued)})
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

func (s *Server) execute(id, name string) {
	defer s.wg.Done()
	defer s.release()

	logger := s.logger.With(zap.String("id", id), zap.String("scenario", name))
	_ = s.runs.Update(id, RunRunning, s.clock.Now(), nil, "")

	var (
		summary report.Summary
		err     error
	)
	if name == scenario.VATScenario {
		summary, err = s.runner.RunVAT(s.ctx)
	} else {
		var res dispatcher.Result
		res, err = s.runner.Run(s.ctx, name)
		if res.RunID != "" {
			summary = res.Summary()
		}
	}

	status := RunPassed
	errText := ""
	var suiteErr *report.SuiteError
	switch {
	case errors.As(err, &suiteErr):
		status = RunFailed
	case err != nil:
		status = RunError
		errText = err.Error()
	}
	var sumPtr *report.Summary
	if summary.RunID != "" {
		sumPtr = &summary
	}
	if uerr := s.runs.Update(id, status, s.clock.Now(), sumPtr, errText); uerr != nil {
		logger.Error("Failed to record run outcome", zap.Error(uerr))
	}
	logger.Info("Run completed", zap.String("status", string(status)))
}

func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.List()})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if run.Summary == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("run is %s", run.Status))
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := report.Render(w, format, *run.Summary); err != nil {
		s.logger.Error("Render report failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
