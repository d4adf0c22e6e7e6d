package repository

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/krakenwifi/internal/db"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

var jobRowColumns = []string{
	"id", "name", "state", "seq", "request", "queued_at", "started_at", "completed_at", "last_progress_at",
	"cause", "last_error", "warning", "stalled", "restart_of",
	"percent", "throughput", "eta_seconds", "cracked", "hashes_total",
	"keyspace_done", "keyspace_total", "flagged", "flag_reason",
}

const requestJSON = `{"job_id":"job-1","capture":"capture.hc22000","networks":["AA:BB:CC:DD:EE:FF"],` +
	`"hints":{"workload":3},"mode":"dictionary","params":{"dictionaries":["wordlist.txt"]}}`

func newMockRepo(t *testing.T) (*JobRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return NewJobRepository(db.Wrap(conn)), mock
}

func jobRow(id string, state models.JobState, started *time.Time) []driver.Value {
	var startedAt driver.Value
	if started != nil {
		startedAt = *started
	}
	return []driver.Value{
		id, "", string(state), int64(2), []byte(requestJSON), storeNow, startedAt, nil, nil,
		"", "", "", false, "",
		50.0, int64(1500), int64(90), int64(1), int64(2),
		int64(500), int64(1000), false, "",
	}
}

func existsRows(found bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"exists"}).AddRow(found)
}

func TestJobRepositoryCreateJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	job := testJob("job-1", storeNow)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "", "pending", int64(0), sqlmock.AnyArg(), storeNow, "", int64(-1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CreateJob(context.Background(), job))

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(&pq.Error{Code: uniqueViolation})
	assert.ErrorIs(t, repo.CreateJob(context.Background(), job), ErrDuplicateRecord)
}

func TestJobRepositoryGetJob(t *testing.T) {
	repo, mock := newMockRepo(t)
	started := storeNow.Add(time.Minute)

	mock.ExpectQuery("FROM jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(jobRow("job-1", models.JobStateRunning, &started)...))

	job, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, job.State)
	assert.Equal(t, uint64(2), job.Seq)
	require.NotNil(t, job.StartedAt)
	assert.Equal(t, started, *job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, 1, job.Progress.Cracked)
	assert.Equal(t, int64(1000), job.Progress.KeyspaceTotal)

	mode, ok := job.Request.Mode.(models.DictionaryAttack)
	require.True(t, ok)
	assert.Equal(t, []string{"wordlist.txt"}, mode.Dictionaries)
	assert.Equal(t, 3, job.Request.Hints.Workload)

	mock.ExpectQuery("FROM jobs").WithArgs("missing").WillReturnRows(sqlmock.NewRows(jobRowColumns))
	_, err = repo.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRepositoryLoadJobsInStates(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("WHERE state = ANY").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow(jobRow("job-1", models.JobStateRunning, nil)...).
			AddRow(jobRow("job-2", models.JobStatePaused, nil)...))

	jobs, err := repo.LoadJobsInStates(context.Background(), models.JobStateRunning, models.JobStatePaused)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-2", jobs[1].ID)
}

func TestJobRepositoryUpdateStateSequenced(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	u := StateUpdate{JobID: "job-1", State: models.JobStatePaused, Seq: 2, At: storeNow}

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("job-1", "paused", int64(2), "", "", storeNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateState(ctx, u))

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("job-1").WillReturnRows(existsRows(true))
	assert.ErrorIs(t, repo.UpdateState(ctx, u), ErrStaleSequence)

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("job-1").WillReturnRows(existsRows(false))
	assert.ErrorIs(t, repo.UpdateState(ctx, u), ErrNotFound)

	assert.ErrorIs(t, repo.UpdateState(ctx, StateUpdate{JobID: "job-1", State: models.JobStateCracked}), ErrInvalidState)
}

func TestJobRepositorySetTerminalState(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("completed_at").
		WithArgs("job-1", "failed", int64(5), "timeout", "deadline exceeded", storeNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetTerminalState(context.Background(), StateUpdate{
		JobID: "job-1", State: models.JobStateFailed, Seq: 5,
		Cause: models.CauseTimeout, Reason: "deadline exceeded", At: storeNow,
	})
	require.NoError(t, err)

	err = repo.SetTerminalState(context.Background(), StateUpdate{JobID: "job-1", State: models.JobStatePaused, Seq: 6})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestJobRepositoryAppendProgress(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()
	snap := models.ProgressSnapshot{Percent: 50, Throughput: 1000, ETASeconds: 30, Cracked: 1, HashesTotal: 2, RecordedAt: storeNow}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO job_progress").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	require.NoError(t, repo.AppendProgress(ctx, "job-1", snap))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("job-1").WillReturnRows(existsRows(true))
	assert.ErrorIs(t, repo.AppendProgress(ctx, "job-1", snap), ErrStaleSequence)
}

func TestJobRepositoryAppendResultsSkipsDuplicates(t *testing.T) {
	repo, mock := newMockRepo(t)
	results := []models.CrackResult{
		{Network: "AA:BB:CC:DD:EE:FF", Plaintext: "hunter2", Mode: models.AttackKindDictionary, DiscoveredAt: storeNow},
		{Network: "11:22:33:44:55:66", Plaintext: "letmein1", Mode: models.AttackKindDictionary, DiscoveredAt: storeNow},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WithArgs("job-1").WillReturnRows(existsRows(true))
	mock.ExpectExec("INSERT INTO crack_results").
		WithArgs("job-1", "AA:BB:CC:DD:EE:FF", "", "hunter2", "", "dictionary", storeNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO crack_results").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := repo.AppendResults(context.Background(), "job-1", results)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJobRepositoryAppendResultsRollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	results := []models.CrackResult{{Network: "AA:BB:CC:DD:EE:FF", Plaintext: "hunter2", DiscoveredAt: storeNow}}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(existsRows(true))
	mock.ExpectExec("INSERT INTO crack_results").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	n, err := repo.AppendResults(context.Background(), "job-1", results)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, n)
}

func TestJobRepositoryGetResults(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("job-1").WillReturnRows(existsRows(true))
	mock.ExpectQuery("FROM crack_results").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "network", "essid", "plaintext", "pmk", "attack_mode", "discovered_at"}).
			AddRow("job-1", "AA:BB:CC:DD:EE:FF", "home", "hunter2", "abcd", "dictionary", storeNow))

	results, err := repo.GetResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hunter2", results[0].Plaintext)
	assert.Equal(t, models.AttackKindDictionary, results[0].Mode)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("missing").WillReturnRows(existsRows(false))
	_, err = repo.GetResults(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
