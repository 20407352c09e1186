package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecheck/internal/report"
)

var (
	started  = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	finished = started.Add(3 * time.Minute)
)

func failingSummary() report.Summary {
	failures := report.NewFailures()
	failures.Record("image-alt", "https://example.com/a", "a.png", 1)
	failures.Record("image-alt", "https://example.com/c", "c.png, d.png", 2)
	return report.Summary{
		RunID:      "run-1",
		Scenario:   "image-alt",
		StartedAt:  started,
		FinishedAt: finished,
		URLs:       3,
		Failures:   failures.Groups(),
	}
}

func TestSaveRunInsertsRunAndFailures(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewWithPool(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO check_runs").
		WithArgs("run-1", "image-alt", started, finished, "failed", 3, 0, 0, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO check_failures").
		WithArgs(
			"run-1", "image-alt", "https://example.com/a", "a.png", 1,
			"run-1", "image-alt", "https://example.com/c", "c.png, d.png", 2,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, store.Deliver(context.Background(), failingSummary()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunPassedSkipsFailureInsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO check_runs").
		WithArgs("run-2", "all-technical", started, finished, "passed", 5, 1, 0, 0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = NewWithPool(mock).SaveRun(context.Background(), report.Summary{
		RunID:      "run-2",
		Scenario:   "all-technical",
		StartedAt:  started,
		FinishedAt: finished,
		URLs:       5,
		Skipped:    1,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO check_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = NewWithPool(mock).SaveRun(context.Background(), failingSummary())
	require.ErrorContains(t, err, "insert run")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	require.Error(t, NewWithPool(mock).SaveRun(context.Background(), report.Summary{}))
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := mock.NewRows([]string{"run_id", "scenario", "started_at", "finished_at", "status", "urls", "skipped", "load_errors", "failures"}).
		AddRow("run-1", "image-alt", started, finished, "failed", 3, 0, 0, 2)
	mock.ExpectQuery("SELECT (.+) FROM check_runs WHERE run_id = \\$1").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := NewWithPool(mock).GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "failed", run.Status)
	assert.Equal(t, 2, run.Failures)
	assert.True(t, run.FinishedAt.Equal(finished))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM check_runs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewWithPool(mock).GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS check_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, NewWithPool(mock).Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
