// Package postgres persists run summaries and their failure records.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitecheck/internal/report"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

const (
	runsTable     = "check_runs"
	failuresTable = "check_failures"
)

// Schema creates the tables RunStore writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS check_runs (
	run_id      TEXT PRIMARY KEY,
	scenario    TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	urls        INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	load_errors INTEGER NOT NULL,
	failures    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS check_failures (
	run_id    TEXT NOT NULL REFERENCES check_runs (run_id) ON DELETE CASCADE,
	check_key TEXT NOT NULL,
	url       TEXT NOT NULL,
	detail    TEXT NOT NULL,
	count     INTEGER NOT NULL
);`

// Config controls the connection pool.
type Config struct {
	DSN      string
	MaxConns int32
}

// Run is one persisted run row.
type Run struct {
	RunID      string    `json:"run_id"`
	Scenario   string    `json:"scenario"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	URLs       int       `json:"urls"`
	Skipped    int       `json:"skipped"`
	LoadErrors int       `json:"load_errors"`
	Failures   int       `json:"failures"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore writes runs into Postgres.
type RunStore struct {
	pool pool
	psql sq.StatementBuilderType
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p), nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(p pool) *RunStore {
	return &RunStore{pool: p, psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// Migrate creates the tables when missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate run tables: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRun stores sum and every failure record in one transaction.
func (s *RunStore) SaveRun(ctx context.Context, sum report.Summary) (err error) {
	if sum.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	status := "passed"
	if !sum.Passed() {
		status = "failed"
	}
	runSQL, runArgs, err := s.psql.Insert(runsTable).
		Columns("run_id", "scenario", "started_at", "finished_at", "status", "urls", "skipped", "load_errors", "failures").
		Values(sum.RunID, sum.Scenario, sum.StartedAt, sum.FinishedAt, status, sum.URLs, sum.Skipped, sum.LoadErrors, sum.TotalFailures()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, runSQL, runArgs...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if sum.TotalFailures() > 0 {
		ins := s.psql.Insert(failuresTable).Columns("run_id", "check_key", "url", "detail", "count")
		for _, g := range sum.Failures {
			for _, rec := range g.Records {
				ins = ins.Values(sum.RunID, rec.Check, rec.URL, rec.Detail, rec.Count)
			}
		}
		failSQL, failArgs, buildErr := ins.ToSql()
		if buildErr != nil {
			err = fmt.Errorf("build failure insert: %w", buildErr)
			return err
		}
		if _, err = tx.Exec(ctx, failSQL, failArgs...); err != nil {
			return fmt.Errorf("insert failures: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// Deliver implements the run sink contract.
func (s *RunStore) Deliver(ctx context.Context, sum report.Summary) error {
	return s.SaveRun(ctx, sum)
}

// GetRun loads one run or returns ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, runID string) (Run, error) {
	query, args, err := s.psql.
		Select("run_id", "scenario", "started_at", "finished_at", "status", "urls", "skipped", "load_errors", "failures").
		From(runsTable).
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return Run{}, fmt.Errorf("build run select: %w", err)
	}
	var r Run
	err = s.pool.QueryRow(ctx, query, args...).Scan(
		&r.RunID,
		&r.Scenario,
		&r.StartedAt,
		&r.FinishedAt,
		&r.Status,
		&r.URLs,
		&r.Skipped,
		&r.LoadErrors,
		&r.Failures,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}
