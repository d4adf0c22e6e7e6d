package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ZerkerEOD/krakenwifi/internal/db"
	"github.com/ZerkerEOD/krakenwifi/internal/db/queries"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

const uniqueViolation = "23505"

// JobRepository is the PostgreSQL Store
type JobRepository struct {
	db *db.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *db.DB) *JobRepository {
	return &JobRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job     models.Job
		request []byte
	)
	err := row.Scan(
		&job.ID, &job.Name, &job.State, &job.Seq, &request, &job.QueuedAt,
		&job.StartedAt, &job.CompletedAt, &job.LastProgressAt,
		&job.Cause, &job.LastError, &job.Warning, &job.Stalled, &job.RestartOf,
		&job.Progress.Percent, &job.Progress.Throughput, &job.Progress.ETASeconds,
		&job.Progress.Cracked, &job.Progress.HashesTotal,
		&job.Progress.KeyspaceDone, &job.Progress.KeyspaceTotal,
		&job.Progress.Flagged, &job.Progress.FlagReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(request, &job.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request of job %s: %w", job.ID, err)
	}
	if job.LastProgressAt != nil {
		job.Progress.RecordedAt = *job.LastProgressAt
	}
	return &job, nil
}

// CreateJob inserts a pending job
func (r *JobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	_, err = r.db.ExecContext(ctx, queries.CreateJob,
		job.ID,
		job.Name,
		job.State,
		job.Seq,
		request,
		job.QueuedAt,
		job.RestartOf,
		job.Progress.ETASeconds,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("job %s: %w", job.ID, ErrDuplicateRecord)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, queries.GetJobByID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first
func (r *JobRepository) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, queries.ListJobs, string(filter.State), filter.limit(), filter.offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collectJobs(rows)
}

// LoadPendingJobs returns queued jobs oldest first
func (r *JobRepository) LoadPendingJobs(ctx context.Context) ([]*models.Job, error) {
	return r.LoadJobsInStates(ctx, models.JobStatePending)
}

// LoadJobsInStates returns jobs in any of the given states, oldest first
func (r *JobRepository) LoadJobsInStates(ctx context.Context, states ...models.JobState) ([]*models.Job, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, queries.ListJobsInStates, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

// UpdateState persists a non-terminal transition
func (r *JobRepository) UpdateState(ctx context.Context, u StateUpdate) error {
	if u.State.IsTerminal() || !u.State.Valid() {
		return fmt.Errorf("%w: %s is not a live state", ErrInvalidState, u.State)
	}
	result, err := r.db.ExecContext(ctx, queries.UpdateJobState,
		u.JobID, u.State, u.Seq, u.Cause, u.Reason, u.At)
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}
	return r.checkSequenced(ctx, result, u)
}

// SetTerminalState persists a terminal transition
func (r *JobRepository) SetTerminalState(ctx context.Context, u StateUpdate) error {
	if !u.State.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidState, u.State)
	}
	result, err := r.db.ExecContext(ctx, queries.SetJobTerminalState,
		u.JobID, u.State, u.Seq, u.Cause, u.Reason, u.At)
	if err != nil {
		return fmt.Errorf("failed to set terminal state: %w", err)
	}
	return r.checkSequenced(ctx, result, u)
}

// checkSequenced tells a missing job apart from a write that lost to a newer sequence
func (r *JobRepository) checkSequenced(ctx context.Context, result sql.Result, u StateUpdate) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := r.exists(ctx, u.JobID); err != nil {
		return err
	}
	return fmt.Errorf("job %s seq %d: %w", u.JobID, u.Seq, ErrStaleSequence)
}

func (r *JobRepository) exists(ctx context.Context, jobID string) error {
	var found bool
	if err := r.db.QueryRowContext(ctx, queries.JobExists, jobID).Scan(&found); err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// AppendProgress records the snapshot as the job's current progress and in its history
func (r *JobRepository) AppendProgress(ctx context.Context, jobID string, snap models.ProgressSnapshot) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, queries.UpdateJobProgress,
			jobID, snap.Percent, snap.Throughput, snap.ETASeconds, snap.Cracked, snap.HashesTotal,
			snap.KeyspaceDone, snap.KeyspaceTotal, snap.Flagged, snap.FlagReason, snap.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to update job progress: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return ErrStaleSequence
		}

		_, err = tx.ExecContext(ctx, queries.InsertProgress,
			jobID, snap.Percent, snap.Throughput, snap.ETASeconds, snap.Cracked, snap.HashesTotal,
			snap.KeyspaceDone, snap.KeyspaceTotal, snap.Flagged, snap.FlagReason, snap.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to insert progress: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrStaleSequence) {
		if existsErr := r.exists(ctx, jobID); existsErr != nil {
			return existsErr
		}
		return fmt.Errorf("job %s is not running: %w", jobID, ErrStaleSequence)
	}
	return err
}

// ListProgress returns the progress history oldest first
func (r *JobRepository) ListProgress(ctx context.Context, jobID string) ([]models.ProgressSnapshot, error) {
	if err := r.exists(ctx, jobID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, queries.ListProgress, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var history []models.ProgressSnapshot
	for rows.Next() {
		var p models.ProgressSnapshot
		if err := rows.Scan(
			&p.Percent, &p.Throughput, &p.ETASeconds, &p.Cracked, &p.HashesTotal,
			&p.KeyspaceDone, &p.KeyspaceTotal, &p.Flagged, &p.FlagReason, &p.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		history = append(history, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress: %w", err)
	}
	return history, nil
}

// AppendResults inserts results in a single transaction, skipping ones already stored
func (r *JobRepository) AppendResults(ctx context.Context, jobID string, results []models.CrackResult) (int, error) {
	if len(results) == 0 {
		return 0, r.exists(ctx, jobID)
	}

	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var found bool
		if err := tx.QueryRowContext(ctx, queries.JobExists, jobID).Scan(&found); err != nil {
			return fmt.Errorf("failed to check job: %w", err)
		}
		if !found {
			return ErrNotFound
		}

		for _, res := range results {
			result, err := tx.ExecContext(ctx, queries.InsertCrackResult,
				jobID, res.Network, res.ESSID, res.Plaintext, res.PMK, res.Mode, res.DiscoveredAt)
			if err != nil {
				return fmt.Errorf("failed to insert result for %s: %w", res.Network, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetResults returns the job's results in discovery order
func (r *JobRepository) GetResults(ctx context.Context, jobID string) ([]models.CrackResult, error) {
	if err := r.exists(ctx, jobID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, queries.ListCrackResults, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []models.CrackResult
	for rows.Next() {
		var res models.CrackResult
		if err := rows.Scan(
			&res.JobID, &res.Network, &res.ESSID, &res.Plaintext, &res.PMK, &res.Mode, &res.DiscoveredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// SetStalled flags or clears the stall marker of a running job
func (r *JobRepository) SetStalled(ctx context.Context, jobID string, stalled bool) error {
	if _, err := r.db.ExecContext(ctx, queries.SetJobStalled, jobID, stalled); err != nil {
		return fmt.Errorf("failed to set stalled: %w", err)
	}
	return nil
}

// SetWarning records a non-fatal problem on the job
func (r *JobRepository) SetWarning(ctx context.Context, jobID string, warning string) error {
	result, err := r.db.ExecContext(ctx, queries.SetJobWarning, jobID, warning)
	if err != nil {
		return fmt.Errorf("failed to set warning: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
