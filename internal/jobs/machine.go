package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenwifi/internal/hashcat"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

var (
	// ErrInvalidTransition is wrapped by every rejected state change
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnsupportedOperation is returned when the process did not honor a pause
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrJobTerminal is returned for requests against a finished job
	ErrJobTerminal = errors.New("job is in a terminal state")
	// ErrStaleProgress is returned when a progress snapshot is discarded
	ErrStaleProgress = errors.New("stale progress")
)

// TransitionError describes a rejected state change
type TransitionError struct {
	JobID string
	From  models.JobState
	To    models.JobState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var transitions = map[models.JobState][]models.JobState{
	models.JobStatePending: {
		models.JobStateRunning,
		models.JobStateFailed,
		models.JobStateStopped,
	},
	models.JobStateRunning: {
		models.JobStatePaused,
		models.JobStateStopped,
		models.JobStateCompleted,
		models.JobStateCracked,
		models.JobStateExhausted,
		models.JobStateFailed,
	},
	models.JobStatePaused: {
		models.JobStateRunning,
		models.JobStateStopped,
		models.JobStateFailed,
	},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to models.JobState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is the record of one applied state change
type Transition struct {
	JobID  string
	From   models.JobState
	To     models.JobState
	Seq    uint64
	Cause  models.FailureCause
	Reason string
	At     time.Time
}

// Machine is the authoritative lifecycle of one job. All mutation of the job happens under
// its lock, so progress from the stream reader and the terminal transition from the exit
// path never interleave.
type Machine struct {
	mu  sync.Mutex
	job *models.Job

	pauseRequested  bool
	resumeRequested bool
	stopRequested   bool

	// last recognized progress line, zero until one arrives
	lastSeen time.Time

	now func() time.Time
}

// NewMachine takes ownership of job
func NewMachine(job *models.Job) *Machine {
	return &Machine{job: job, now: time.Now}
}

// ID returns the job identifier
func (m *Machine) ID() string {
	return m.job.ID
}

// State returns the current state
func (m *Machine) State() models.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.State
}

// Snapshot returns a copy of the job safe to hand to callers
func (m *Machine) Snapshot() *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Clone()
}

// Transition applies a state change. Illegal edges leave the job untouched.
func (m *Machine) Transition(to models.JobState, cause models.FailureCause, reason string) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to, cause, reason)
}

func (m *Machine) transitionLocked(to models.JobState, cause models.FailureCause, reason string) (Transition, error) {
	from := m.job.State
	if !CanTransition(from, to) {
		err := &TransitionError{JobID: m.job.ID, From: from, To: to}
		debug.Fields(debug.LevelError, "rejected job transition", map[string]interface{}{
			"job_id": m.job.ID,
			"from":   from,
			"to":     to,
			"seq":    m.job.Seq,
		})
		return Transition{}, err
	}

	now := m.now()
	m.job.State = to
	m.job.Seq++

	switch {
	case to == models.JobStateRunning && m.job.StartedAt == nil:
		m.job.StartedAt = &now
	case to.IsTerminal():
		m.job.CompletedAt = &now
		m.job.Cause = cause
		if reason != "" {
			m.job.LastError = reason
		}
		m.job.Stalled = false
	}

	switch to {
	case models.JobStatePaused:
		m.pauseRequested = false
	case models.JobStateRunning:
		m.resumeRequested = false
	}

	t := Transition{
		JobID:  m.job.ID,
		From:   from,
		To:     to,
		Seq:    m.job.Seq,
		Cause:  cause,
		Reason: reason,
		At:     now,
	}
	debug.Fields(debug.LevelInfo, "job transition", map[string]interface{}{
		"job_id": t.JobID,
		"from":   t.From,
		"to":     t.To,
		"seq":    t.Seq,
		"cause":  string(t.Cause),
	})
	return t, nil
}

// Admit moves a pending job to Running, or straight to Stopped when a stop was requested
// before the scheduler got to it.
func (m *Machine) Admit() (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopRequested {
		return m.transitionLocked(models.JobStateStopped, models.CauseNone, "stopped before admission")
	}
	return m.transitionLocked(models.JobStateRunning, models.CauseNone, "")
}

// RecordProgress accepts a snapshot only while the job is running and only if its cracked
// count does not go backwards. The accepted snapshot is returned.
func (m *Machine) RecordProgress(snap models.ProgressSnapshot) (models.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.State != models.JobStateRunning {
		debug.Debug("job %s: discarding progress in state %s", m.job.ID, m.job.State)
		return m.job.Progress, fmt.Errorf("%w: job %s is %s", ErrStaleProgress, m.job.ID, m.job.State)
	}
	if snap.Cracked < m.job.Progress.Cracked {
		debug.Warning("job %s: discarding out-of-order progress (cracked %d < %d)",
			m.job.ID, snap.Cracked, m.job.Progress.Cracked)
		return m.job.Progress, fmt.Errorf("%w: cracked count went from %d to %d",
			ErrStaleProgress, m.job.Progress.Cracked, snap.Cracked)
	}

	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = m.now()
	}
	m.job.Progress = snap
	at := snap.RecordedAt
	m.job.LastProgressAt = &at
	m.lastSeen = at
	m.job.Stalled = false
	return snap, nil
}

// Progress returns the last accepted snapshot
func (m *Machine) Progress() models.ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job.Progress
}

// RequestPause marks a pause as requested. The job stays Running until ConfirmPause.
func (m *Machine) RequestPause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, m.job.State)
	}
	if m.job.State != models.JobStateRunning {
		return &TransitionError{JobID: m.job.ID, From: m.job.State, To: models.JobStatePaused}
	}
	if m.stopRequested {
		return fmt.Errorf("%w: stop already requested", ErrUnsupportedOperation)
	}
	m.pauseRequested = true
	return nil
}

// ConfirmPause flips Running to Paused once the process is suspended
func (m *Machine) ConfirmPause() (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(models.JobStatePaused, models.CauseNone, "")
}

// AbortPause clears a pause request the process did not honor
func (m *Machine) AbortPause() {
	m.mu.Lock()
	m.pauseRequested = false
	m.mu.Unlock()
}

// PauseRequested reports whether a pause is outstanding
func (m *Machine) PauseRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pauseRequested
}

// RequestResume marks a resume as requested. The job stays Paused until ConfirmResume.
func (m *Machine) RequestResume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.State.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, m.job.State)
	}
	if m.job.State != models.JobStatePaused {
		return &TransitionError{JobID: m.job.ID, From: m.job.State, To: models.JobStateRunning}
	}
	m.resumeRequested = true
	return nil
}

// ConfirmResume flips Paused back to Running. Progress is left as it was.
func (m *Machine) ConfirmResume() (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(models.JobStateRunning, models.CauseNone, "")
}

// RequestStop marks a stop as requested. It returns the state at the time of the request so
// callers can stop a job that was never admitted without involving a worker.
func (m *Machine) RequestStop() (models.JobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.State.IsTerminal() {
		return m.job.State, fmt.Errorf("%w: %s", ErrJobTerminal, m.job.State)
	}
	m.stopRequested = true
	m.pauseRequested = false
	return m.job.State, nil
}

// StopRequested reports whether the user asked for the job to stop
func (m *Machine) StopRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopRequested
}

// SetWarning records a non-fatal problem on the job
func (m *Machine) SetWarning(msg string) {
	m.mu.Lock()
	m.job.Warning = msg
	m.mu.Unlock()
}

// CheckStalled flags a running job that has produced no recognized progress within window.
// It returns true only the first time the job becomes stalled.
func (m *Machine) CheckStalled(now time.Time, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.State != models.JobStateRunning || m.job.Stalled || m.job.StartedAt == nil {
		return false
	}
	if !hashcat.Stale(m.lastSeen, *m.job.StartedAt, now, window) {
		return false
	}
	m.job.Stalled = true
	return true
}
