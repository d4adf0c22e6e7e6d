package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

// MemoryStore keeps everything in process memory. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*models.Job
	progress map[string][]models.ProgressSnapshot
	results  map[string][]models.CrackResult
	seen     map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*models.Job),
		progress: make(map[string][]models.ProgressSnapshot),
		results:  make(map[string][]models.CrackResult),
		seen:     make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrDuplicateRecord)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, error) {
	s.mu.RLock()
	var out []*models.Job
	for _, job := range s.jobs {
		if filter.State != "" && job.State != filter.State {
			continue
		}
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.After(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})

	start := filter.offset()
	if start > len(out) {
		start = len(out)
	}
	end := start + filter.limit()
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (s *MemoryStore) LoadPendingJobs(ctx context.Context) ([]*models.Job, error) {
	return s.LoadJobsInStates(ctx, models.JobStatePending)
}

func (s *MemoryStore) LoadJobsInStates(_ context.Context, states ...models.JobState) ([]*models.Job, error) {
	want := make(map[models.JobState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	s.mu.RLock()
	var out []*models.Job
	for _, job := range s.jobs {
		if want[job.State] {
			out = append(out, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateState(_ context.Context, u StateUpdate) error {
	if u.State.IsTerminal() || !u.State.Valid() {
		return fmt.Errorf("%w: %s is not a live state", ErrInvalidState, u.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.sequenced(u)
	if err != nil {
		return err
	}
	job.State = u.State
	job.Seq = u.Seq
	job.Cause = u.Cause
	job.Stalled = false
	if u.Reason != "" {
		job.LastError = u.Reason
	}
	if u.State == models.JobStateRunning && job.StartedAt == nil {
		at := u.At
		job.StartedAt = &at
	}
	return nil
}

func (s *MemoryStore) SetTerminalState(_ context.Context, u StateUpdate) error {
	if !u.State.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidState, u.State)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.sequenced(u)
	if err != nil {
		return err
	}
	job.State = u.State
	job.Seq = u.Seq
	job.Cause = u.Cause
	job.Stalled = false
	if u.Reason != "" {
		job.LastError = u.Reason
	}
	at := u.At
	job.CompletedAt = &at
	return nil
}

// sequenced must be called with mu held
func (s *MemoryStore) sequenced(u StateUpdate) (*models.Job, error) {
	job, ok := s.jobs[u.JobID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.Seq <= job.Seq {
		return nil, fmt.Errorf("job %s: seq %d <= %d: %w", u.JobID, u.Seq, job.Seq, ErrStaleSequence)
	}
	return job, nil
}

func (s *MemoryStore) AppendProgress(_ context.Context, jobID string, snap models.ProgressSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State != models.JobStateRunning {
		return fmt.Errorf("job %s is %s: %w", jobID, job.State, ErrStaleSequence)
	}
	job.Progress = snap
	at := snap.RecordedAt
	job.LastProgressAt = &at
	job.Stalled = false
	s.progress[jobID] = append(s.progress[jobID], snap)
	return nil
}

func (s *MemoryStore) ListProgress(_ context.Context, jobID string) ([]models.ProgressSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.ProgressSnapshot(nil), s.progress[jobID]...), nil
}

func (s *MemoryStore) AppendResults(_ context.Context, jobID string, results []models.CrackResult) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return 0, ErrNotFound
	}
	seen := s.seen[jobID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seen[jobID] = seen
	}

	inserted := 0
	for _, r := range results {
		r.JobID = jobID
		if _, dup := seen[r.Key()]; dup {
			continue
		}
		seen[r.Key()] = struct{}{}
		s.results[jobID] = append(s.results[jobID], r)
		inserted++
	}
	return inserted, nil
}

func (s *MemoryStore) GetResults(_ context.Context, jobID string) ([]models.CrackResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[jobID]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.CrackResult(nil), s.results[jobID]...), nil
}

func (s *MemoryStore) SetStalled(_ context.Context, jobID string, stalled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.State == models.JobStateRunning {
		job.Stalled = stalled
	}
	return nil
}

func (s *MemoryStore) SetWarning(_ context.Context, jobID string, warning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	job.Warning = warning
	return nil
}
