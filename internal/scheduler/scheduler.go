package scheduler

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// AdmitFunc hands an admitted job to its worker. It must not block on the job's execution;
// the slot stays reserved until Release is called for the same id.
type AdmitFunc func(ctx context.Context, jobID string)

// Scheduler admits queued jobs in FIFO order while keeping at most max jobs active. It only
// deals in job ids and never looks at attack parameters.
type Scheduler struct {
	max   int64
	admit AdmitFunc

	active atomic.Int64

	mu    sync.Mutex
	queue *list.List
	index map[string]*list.Element

	// holds at most one pending wake-up
	wake chan struct{}
}

// New creates a scheduler with the given concurrency ceiling (minimum 1)
func New(maxConcurrent int, admit AdmitFunc) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		max:   int64(maxConcurrent),
		admit: admit,
		queue: list.New(),
		index: make(map[string]*list.Element),
		wake:  make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue. It returns false if the id is already queued.
func (s *Scheduler) Enqueue(jobID string) bool {
	s.mu.Lock()
	if _, exists := s.index[jobID]; exists {
		s.mu.Unlock()
		return false
	}
	s.index[jobID] = s.queue.PushBack(jobID)
	s.mu.Unlock()

	s.signal()
	return true
}

// Remove drops a queued job before admission. It returns false if the job was not queued,
// which means it was already admitted or never enqueued.
func (s *Scheduler) Remove(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[jobID]
	if !ok {
		return false
	}
	s.queue.Remove(el)
	delete(s.index, jobID)
	return true
}

// Release returns a slot after a job reached a terminal state
func (s *Scheduler) Release(jobID string) {
	if n := s.active.Add(-1); n < 0 {
		debug.Error("scheduler slot released more often than admitted (job %s)", jobID)
		s.active.Store(0)
	}
	s.signal()
}

// Active is the number of admitted jobs that have not been released
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Queued is the number of jobs waiting for admission
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Max is the concurrency ceiling
func (s *Scheduler) Max() int {
	return int(s.max)
}

// Position returns the 1-based queue position of a job, or 0 if it is not queued
func (s *Scheduler) Position(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := 1
	for el := s.queue.Front(); el != nil; el = el.Next() {
		if el.Value.(string) == jobID {
			return pos
		}
		pos++
	}
	return 0
}

// Run admits jobs until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	debug.Info("scheduler started with %d slot(s)", s.max)
	for {
		s.admitReady(ctx)

		select {
		case <-ctx.Done():
			debug.Info("scheduler stopped with %d queued job(s)", s.Queued())
			return
		case <-s.wake:
		}
	}
}

func (s *Scheduler) admitReady(ctx context.Context) {
	for ctx.Err() == nil {
		if !s.tryReserve() {
			return
		}
		jobID, ok := s.pop()
		if !ok {
			s.active.Add(-1)
			return
		}
		debug.Debug("admitting job %s (%d/%d active)", jobID, s.active.Load(), s.max)
		s.admit(ctx, jobID)
	}
}

// tryReserve takes a slot if one is free
func (s *Scheduler) tryReserve() bool {
	for {
		n := s.active.Load()
		if n >= s.max {
			return false
		}
		if s.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *Scheduler) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el := s.queue.Front()
	if el == nil {
		return "", false
	}
	jobID := s.queue.Remove(el).(string)
	delete(s.index, jobID)
	return jobID, true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
