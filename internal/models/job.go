package models

import "time"

// JobState represents the lifecycle state of an attack job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStatePaused    JobState = "paused"
	JobStateCompleted JobState = "completed"
	JobStateCracked   JobState = "cracked"
	JobStateExhausted JobState = "exhausted"
	JobStateFailed    JobState = "failed"
	JobStateStopped   JobState = "stopped"
)

// AllJobStates lists every state, non-terminal first
var AllJobStates = []JobState{
	JobStatePending,
	JobStateRunning,
	JobStatePaused,
	JobStateCompleted,
	JobStateCracked,
	JobStateExhausted,
	JobStateFailed,
	JobStateStopped,
}

// IsTerminal reports whether no transition can leave the state
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateCracked, JobStateExhausted, JobStateFailed, JobStateStopped:
		return true
	}
	return false
}

// Valid reports whether s is a known state
func (s JobState) Valid() bool {
	for _, known := range AllJobStates {
		if s == known {
			return true
		}
	}
	return false
}

// FailureCause explains why a job ended in Failed (or why a harvest was degraded)
type FailureCause string

const (
	CauseNone              FailureCause = ""
	CauseToolNotFound      FailureCause = "tool_not_found"
	CauseFailedToStart     FailureCause = "failed_to_start"
	CauseTimeout           FailureCause = "timeout"
	CauseCrashedWithSignal FailureCause = "crashed_with_signal"
	CauseKilled            FailureCause = "killed"
	CauseToolError         FailureCause = "tool_error"
	CauseOrphanedOnRestart FailureCause = "orphaned_on_restart"
	CauseShutdown          FailureCause = "shutdown"
)

// ProgressSnapshot is one parsed status report. ETASeconds is -1 when unknown.
type ProgressSnapshot struct {
	Percent       float64   `json:"percent" db:"percent"`
	Throughput    int64     `json:"throughput" db:"throughput"`
	ETASeconds    int64     `json:"eta_seconds" db:"eta_seconds"`
	Cracked       int       `json:"cracked" db:"cracked"`
	HashesTotal   int       `json:"hashes_total" db:"hashes_total"`
	KeyspaceDone  int64     `json:"keyspace_done" db:"keyspace_done"`
	KeyspaceTotal int64     `json:"keyspace_total" db:"keyspace_total"`
	Flagged       bool      `json:"flagged,omitempty" db:"flagged"`
	FlagReason    string    `json:"flag_reason,omitempty" db:"flag_reason"`
	RecordedAt    time.Time `json:"recorded_at" db:"recorded_at"`
}

// Job is the mutable aggregate owned by the state machine
type Job struct {
	ID             string           `json:"id" db:"id"`
	Name           string           `json:"name,omitempty" db:"name"`
	State          JobState         `json:"state" db:"state"`
	Seq            uint64           `json:"seq" db:"seq"`
	Progress       ProgressSnapshot `json:"progress"`
	QueuedAt       time.Time        `json:"queued_at" db:"queued_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	LastProgressAt *time.Time       `json:"last_progress_at,omitempty" db:"last_progress_at"`
	Cause          FailureCause     `json:"cause,omitempty" db:"cause"`
	LastError      string           `json:"last_error,omitempty" db:"last_error"`
	Warning        string           `json:"warning,omitempty" db:"warning"`
	Stalled        bool             `json:"stalled,omitempty" db:"stalled"`
	RestartOf      string           `json:"restart_of,omitempty" db:"restart_of"`
	Request        AttackRequest    `json:"request" db:"request"`
}

// NewJob creates a pending job for the request
func NewJob(req AttackRequest, queuedAt time.Time) *Job {
	return &Job{
		ID:       req.JobID,
		Name:     req.Name,
		State:    JobStatePending,
		Progress: ProgressSnapshot{ETASeconds: -1},
		QueuedAt: queuedAt,
		Request:  req,
	}
}

// Clone returns a deep enough copy for handing out of the state machine
func (j *Job) Clone() *Job {
	c := *j
	c.Request = j.Request.WithJobID(j.Request.JobID)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.LastProgressAt != nil {
		t := *j.LastProgressAt
		c.LastProgressAt = &t
	}
	return &c
}

// CrackResult is one recovered secret
type CrackResult struct {
	JobID        string     `json:"job_id" db:"job_id"`
	Network      string     `json:"network" db:"network"`
	ESSID        string     `json:"essid,omitempty" db:"essid"`
	Plaintext    string     `json:"plaintext" db:"plaintext"`
	PMK          string     `json:"pmk,omitempty" db:"pmk"`
	Mode         AttackKind `json:"mode" db:"attack_mode"`
	DiscoveredAt time.Time  `json:"discovered_at" db:"discovered_at"`
}

// Key identifies a result within a job
func (r CrackResult) Key() string {
	return r.Network + "\x00" + r.Plaintext
}
