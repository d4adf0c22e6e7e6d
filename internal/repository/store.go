package repository

import (
	"context"
	"time"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

// StateUpdate is one persisted transition. Seq must be greater than the stored sequence
// or the write is rejected with ErrStaleSequence.
type StateUpdate struct {
	JobID  string
	State  models.JobState
	Seq    uint64
	Cause  models.FailureCause
	Reason string
	At     time.Time
}

// JobFilter narrows ListJobs
type JobFilter struct {
	State  models.JobState
	Limit  int
	Offset int
}

// Store is the persistence contract of the engine. Every method is atomic on its own.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	// LoadPendingJobs returns queued jobs oldest first
	LoadPendingJobs(ctx context.Context) ([]*models.Job, error)
	LoadJobsInStates(ctx context.Context, states ...models.JobState) ([]*models.Job, error)

	// UpdateState persists a non-terminal transition
	UpdateState(ctx context.Context, u StateUpdate) error
	// SetTerminalState persists a terminal transition
	SetTerminalState(ctx context.Context, u StateUpdate) error

	// AppendProgress stores a snapshot in the job's history and as its current progress.
	// Snapshots for jobs that are no longer running are rejected with ErrStaleSequence.
	AppendProgress(ctx context.Context, jobID string, snap models.ProgressSnapshot) error
	ListProgress(ctx context.Context, jobID string) ([]models.ProgressSnapshot, error)

	// AppendResults stores results in one batch and returns how many were new. Results
	// already stored for the job are skipped.
	AppendResults(ctx context.Context, jobID string, results []models.CrackResult) (int, error)
	GetResults(ctx context.Context, jobID string) ([]models.CrackResult, error)

	SetStalled(ctx context.Context, jobID string, stalled bool) error
	SetWarning(ctx context.Context, jobID string, warning string) error
}

const defaultListLimit = 100

func (f JobFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultListLimit
	}
	return f.Limit
}

func (f JobFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*JobRepository)(nil)
)
