package events

import (
	"context"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

// Type identifies what happened to a job
type Type string

const (
	TypeSubmitted Type = "job.submitted"
	TypeState     Type = "job.state"
	TypeProgress  Type = "job.progress"
	TypeStalled   Type = "job.stalled"
	TypeResults   Type = "job.results"
	TypeWarning   Type = "job.warning"
)

// Event is a notification about one job
type Event struct {
	Type     Type                     `json:"type"`
	JobID    string                   `json:"job_id"`
	State    models.JobState          `json:"state,omitempty"`
	Seq      uint64                   `json:"seq,omitempty"`
	Cause    models.FailureCause      `json:"cause,omitempty"`
	Progress *models.ProgressSnapshot `json:"progress,omitempty"`
	Results  int                      `json:"results,omitempty"`
	Message  string                   `json:"message,omitempty"`
	At       time.Time                `json:"at"`
}

// Publisher delivers events. Implementations must not block the caller on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans an event out to several publishers
type Multi struct {
	mu   sync.RWMutex
	pubs []Publisher
}

func NewMulti(pubs ...Publisher) *Multi {
	return &Multi{pubs: pubs}
}

// Add attaches another publisher
func (m *Multi) Add(p Publisher) {
	m.mu.Lock()
	m.pubs = append(m.pubs, p)
	m.mu.Unlock()
}

func (m *Multi) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pubs {
		p.Publish(ctx, ev)
	}
}

// Recorder keeps every event, for tests and the CLI
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of what was recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ForJob returns the recorded events of one job
func (r *Recorder) ForJob(jobID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out
}
