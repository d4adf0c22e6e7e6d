package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/krakenwifi/internal/config"
	"github.com/ZerkerEOD/krakenwifi/internal/events"
	"github.com/ZerkerEOD/krakenwifi/internal/harvest"
	"github.com/ZerkerEOD/krakenwifi/internal/hashcat"
	"github.com/ZerkerEOD/krakenwifi/internal/jobs"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/internal/repository"
	"github.com/ZerkerEOD/krakenwifi/internal/scheduler"
	"github.com/ZerkerEOD/krakenwifi/internal/supervisor"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

var (
	// ErrJobNotFound is returned for ids neither live nor persisted
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a submitted job id is already taken
	ErrDuplicateJob = errors.New("job already exists")
	// ErrJobActive is returned when restarting a job that has not finished
	ErrJobActive = errors.New("job is still active")
)

// Options are the engine settings read once at startup
type Options struct {
	HashcatPath             string
	MaxConcurrentJobs       int
	DefaultWorkload         int
	StatusTimer             int
	ModeTimeouts            map[models.AttackKind]time.Duration
	StopGrace               time.Duration
	PauseGrace              time.Duration
	StaleWindow             time.Duration
	ProgressPersistInterval time.Duration
}

// OptionsFromConfig copies the engine settings out of the process configuration
func OptionsFromConfig(cfg *config.Config) Options {
	timeouts := make(map[models.AttackKind]time.Duration, len(cfg.ModeTimeouts))
	for k, v := range cfg.ModeTimeouts {
		timeouts[k] = v
	}
	return Options{
		HashcatPath:             cfg.HashcatPath,
		MaxConcurrentJobs:       cfg.MaxConcurrentJobs,
		DefaultWorkload:         cfg.DefaultWorkload,
		StatusTimer:             cfg.StatusTimer,
		ModeTimeouts:            timeouts,
		StopGrace:               cfg.StopGrace,
		PauseGrace:              cfg.PauseGrace,
		StaleWindow:             cfg.StaleWindow,
		ProgressPersistInterval: cfg.ProgressPersistInterval,
	}
}

// Workspace prepares per-job working directories. artifacts.Resolver is the production one.
type Workspace interface {
	Prepare(req models.AttackRequest) (hashcat.Layout, error)
	WorkDir(jobID string) string
}

// Engine exposes submit, pause, resume, stop and the query operations. Each admitted job runs
// on its own worker; the scheduler only decides when.
type Engine struct {
	opts      Options
	store     repository.Store
	workspace Workspace
	harvester *harvest.Harvester
	events    events.Publisher
	registry  *jobs.Registry
	sched     *scheduler.Scheduler

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup

	now   func() time.Time
	newID func() string
	spawn func(supervisor.Config) process
}

// process is the part of the supervisor a worker drives
type process interface {
	Start(ctx context.Context) error
	Pid() int
	Lines() <-chan supervisor.Line
	Pause() error
	Resume() error
	Stop() supervisor.Exit
	Wait() supervisor.Exit
}

func newSupervisor(cfg supervisor.Config) process {
	return supervisor.New(cfg)
}

// New wires an engine. Nothing is admitted until Run.
func New(opts Options, store repository.Store, workspace Workspace, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	e := &Engine{
		opts:      opts,
		store:     store,
		workspace: workspace,
		harvester: harvest.New(store),
		events:    pub,
		registry:  jobs.NewRegistry(),
		workers:   make(map[string]*worker),
		now:       time.Now,
		newID:     uuid.NewString,
		spawn:     newSupervisor,
	}
	e.sched = scheduler.New(opts.MaxConcurrentJobs, e.admit)
	return e
}

// Run reconciles persisted state, then admits jobs until ctx is cancelled. It returns once
// every worker has finished.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Recover(ctx); err != nil {
		return err
	}
	e.sched.Run(ctx)
	e.wg.Wait()
	debug.Info("engine stopped")
	return nil
}

// Recover fails jobs left Running or Paused by a previous process and re-queues persisted
// Pending jobs in submission order.
func (e *Engine) Recover(ctx context.Context) error {
	orphans, err := e.store.LoadJobsInStates(ctx, models.JobStateRunning, models.JobStatePaused)
	if err != nil {
		return fmt.Errorf("failed to load orphaned jobs: %w", err)
	}
	for _, job := range orphans {
		if _, live := e.registry.Get(job.ID); live {
			continue
		}
		e.failOrphan(ctx, job)
	}

	pending, err := e.store.LoadPendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending jobs: %w", err)
	}
	requeued := 0
	for _, job := range pending {
		if !e.registry.Add(jobs.NewMachine(job)) {
			continue
		}
		e.sched.Enqueue(job.ID)
		requeued++
	}
	if len(orphans) > 0 || requeued > 0 {
		debug.Info("recovered state: %d orphaned jobs failed, %d pending jobs re-queued", len(orphans), requeued)
	}
	return nil
}

func (e *Engine) failOrphan(ctx context.Context, job *models.Job) {
	u := repository.StateUpdate{
		JobID:  job.ID,
		State:  models.JobStateFailed,
		Seq:    job.Seq + 1,
		Cause:  models.CauseOrphanedOnRestart,
		Reason: fmt.Sprintf("no live process for %s job after restart", job.State),
		At:     e.now(),
	}
	if err := e.store.SetTerminalState(ctx, u); err != nil {
		debug.Error("failed to reconcile orphaned job %s: %v", job.ID, err)
		return
	}
	debug.Fields(debug.LevelWarning, "orphaned job failed", map[string]interface{}{
		"job_id": job.ID,
		"was":    job.State,
		"seq":    u.Seq,
	})

	// whatever the tool wrote before we went down is still worth keeping
	outfile := filepath.Join(e.workspace.WorkDir(job.ID), hashcat.OutputFileName)
	report, err := e.harvester.Harvest(ctx, job.ID, outfile, attackKind(job.Request), false)
	if err != nil {
		e.warn(ctx, nil, job.ID, fmt.Sprintf("result harvest failed: %v", err))
	} else if report.Inserted > 0 {
		e.events.Publish(ctx, events.Event{Type: events.TypeResults, JobID: job.ID, Results: report.Inserted})
	}

	e.events.Publish(ctx, events.Event{
		Type:    events.TypeState,
		JobID:   job.ID,
		State:   u.State,
		Seq:     u.Seq,
		Cause:   u.Cause,
		Message: u.Reason,
		At:      u.At,
	})
}

// Submit validates and enqueues a request. It never waits for the job to run.
func (e *Engine) Submit(ctx context.Context, req models.AttackRequest) (*models.Job, error) {
	return e.submit(ctx, req, "")
}

func (e *Engine) submit(ctx context.Context, req models.AttackRequest, restartOf string) (*models.Job, error) {
	if req.JobID == "" {
		req.JobID = e.newID()
	}
	if err := hashcat.Validate(req); err != nil {
		return nil, err
	}

	job := models.NewJob(req, e.now())
	job.RestartOf = restartOf
	if err := e.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, repository.ErrDuplicateRecord) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, req.JobID)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m := jobs.NewMachine(job.Clone())
	if !e.registry.Add(m) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, req.JobID)
	}
	e.sched.Enqueue(job.ID)

	debug.Fields(debug.LevelInfo, "job submitted", map[string]interface{}{
		"job_id":     job.ID,
		"mode":       attackKind(req),
		"networks":   len(req.Networks),
		"queued":     e.sched.Queued(),
		"restart_of": restartOf,
	})
	e.events.Publish(ctx, events.Event{Type: events.TypeSubmitted, JobID: job.ID, State: job.State, At: job.QueuedAt})
	return job, nil
}

// Restart submits a new job with the request of a finished one. The finished job is untouched.
func (e *Engine) Restart(ctx context.Context, jobID string) (*models.Job, error) {
	prev, err := e.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !prev.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobActive, jobID, prev.State)
	}
	return e.submit(ctx, prev.Request.WithJobID(e.newID()), prev.ID)
}

// Pause suspends a running job. The state is Paused once this returns nil.
func (e *Engine) Pause(ctx context.Context, jobID string) error {
	m, err := e.live(ctx, jobID)
	if err != nil {
		return err
	}
	if err := m.RequestPause(); err != nil {
		return err
	}
	return e.sendIntent(ctx, m, intentPause)
}

// Resume continues a paused job
func (e *Engine) Resume(ctx context.Context, jobID string) error {
	m, err := e.live(ctx, jobID)
	if err != nil {
		return err
	}
	if err := m.RequestResume(); err != nil {
		return err
	}
	return e.sendIntent(ctx, m, intentResume)
}

func (e *Engine) sendIntent(ctx context.Context, m *jobs.Machine, kind intentKind) error {
	w := e.worker(m.ID())
	if w == nil {
		if kind == intentPause {
			m.AbortPause()
		}
		return fmt.Errorf("%w: job %s has no process", jobs.ErrUnsupportedOperation, m.ID())
	}
	err := w.request(ctx, kind)
	if err != nil && kind == intentPause {
		m.AbortPause()
	}
	return err
}

// Stop ends a job. A queued job goes straight to Stopped without ever running; an admitted one
// is terminated by its worker and reaches Stopped asynchronously.
func (e *Engine) Stop(ctx context.Context, jobID string) error {
	m, err := e.live(ctx, jobID)
	if err != nil {
		return err
	}
	state, err := m.RequestStop()
	if err != nil {
		return err
	}

	if state == models.JobStatePending && e.sched.Remove(jobID) {
		tr, err := m.Transition(models.JobStateStopped, models.CauseNone, "stopped before admission")
		if err != nil {
			return err
		}
		e.persistTransition(ctx, tr)
		e.registry.Remove(jobID)
		return nil
	}

	// admitted, or about to be: the worker checks the stop flag before spawning
	if w := e.worker(jobID); w != nil {
		w.stop()
	}
	return nil
}

// GetStatus returns the live snapshot of an active job, otherwise the persisted one
func (e *Engine) GetStatus(ctx context.Context, jobID string) (*models.Job, error) {
	if m, ok := e.registry.Get(jobID); ok {
		return m.Snapshot(), nil
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, e.notFound(jobID, err)
	}
	return job, nil
}

// GetResults returns every result stored so far, including those of a job still running
func (e *Engine) GetResults(ctx context.Context, jobID string) ([]models.CrackResult, error) {
	results, err := e.store.GetResults(ctx, jobID)
	if err != nil {
		return nil, e.notFound(jobID, err)
	}
	return results, nil
}

// GetProgress returns the persisted progress history of a job, oldest first
func (e *Engine) GetProgress(ctx context.Context, jobID string) ([]models.ProgressSnapshot, error) {
	history, err := e.store.ListProgress(ctx, jobID)
	if err != nil {
		return nil, e.notFound(jobID, err)
	}
	return history, nil
}

// List returns persisted jobs with live snapshots laid over them
func (e *Engine) List(ctx context.Context, filter repository.JobFilter) ([]*models.Job, error) {
	list, err := e.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, job := range list {
		if m, ok := e.registry.Get(job.ID); ok {
			job = m.Snapshot()
			// the persisted state lags the live one
			if filter.State != "" && job.State != filter.State {
				continue
			}
		}
		out = append(out, job)
	}
	return out, nil
}

// CheckStalled flags running jobs that produced no progress within the staleness window and
// returns how many were newly flagged. Stalled jobs keep running.
func (e *Engine) CheckStalled(ctx context.Context) int {
	now := e.now()
	flagged := 0
	for _, m := range e.registry.List() {
		if !m.CheckStalled(now, e.opts.StaleWindow) {
			continue
		}
		flagged++
		debug.Fields(debug.LevelWarning, "job stalled", map[string]interface{}{
			"job_id": m.ID(),
			"window": e.opts.StaleWindow.String(),
		})
		if err := e.store.SetStalled(ctx, m.ID(), true); err != nil {
			debug.Error("failed to persist stalled flag for job %s: %v", m.ID(), err)
		}
		e.events.Publish(ctx, events.Event{
			Type:    events.TypeStalled,
			JobID:   m.ID(),
			State:   models.JobStateRunning,
			Message: fmt.Sprintf("no progress for %s", e.opts.StaleWindow),
			At:      now,
		})
	}
	return flagged
}

// Stats describes the scheduler load
type Stats struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
	Max    int `json:"max"`
}

func (e *Engine) Stats() Stats {
	return Stats{Active: e.sched.Active(), Queued: e.sched.Queued(), Max: e.sched.Max()}
}

// admit runs on the scheduler loop and must not block
func (e *Engine) admit(ctx context.Context, jobID string) {
	m, ok := e.registry.Get(jobID)
	if !ok {
		debug.Warning("admitted job %s is no longer registered", jobID)
		e.sched.Release(jobID)
		return
	}

	w := newWorker(e, m)
	e.mu.Lock()
	e.workers[jobID] = w
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		w.run(ctx)
	}()
}

func (e *Engine) worker(jobID string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers[jobID]
}

func (e *Engine) live(ctx context.Context, jobID string) (*jobs.Machine, error) {
	if m, ok := e.registry.Get(jobID); ok {
		return m, nil
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, e.notFound(jobID, err)
	}
	if job.State.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobTerminal, job.State)
	}
	// persisted but not live: only possible before Recover has run
	return nil, fmt.Errorf("%w: job %s is not loaded", jobs.ErrUnsupportedOperation, jobID)
}

func (e *Engine) notFound(jobID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return err
}

// persistTransition writes a state change and announces it. A stale sequence means a later
// transition already landed and is not an error.
func (e *Engine) persistTransition(ctx context.Context, tr jobs.Transition) {
	u := repository.StateUpdate{
		JobID:  tr.JobID,
		State:  tr.To,
		Seq:    tr.Seq,
		Cause:  tr.Cause,
		Reason: tr.Reason,
		At:     tr.At,
	}
	var err error
	if tr.To.IsTerminal() {
		err = e.store.SetTerminalState(ctx, u)
	} else {
		err = e.store.UpdateState(ctx, u)
	}
	switch {
	case errors.Is(err, repository.ErrStaleSequence):
		debug.Debug("skipping stale transition of job %s to %s: %v", tr.JobID, tr.To, err)
	case err != nil:
		debug.Error("failed to persist transition of job %s to %s: %v", tr.JobID, tr.To, err)
	}

	e.events.Publish(ctx, events.Event{
		Type:    events.TypeState,
		JobID:   tr.JobID,
		State:   tr.To,
		Seq:     tr.Seq,
		Cause:   tr.Cause,
		Message: tr.Reason,
		At:      tr.At,
	})
}

func (e *Engine) warn(ctx context.Context, m *jobs.Machine, jobID, msg string) {
	debug.Warning("job %s: %s", jobID, msg)
	if m != nil {
		m.SetWarning(msg)
	}
	if err := e.store.SetWarning(ctx, jobID, msg); err != nil {
		debug.Error("failed to persist warning for job %s: %v", jobID, err)
	}
	e.events.Publish(ctx, events.Event{Type: events.TypeWarning, JobID: jobID, Message: msg})
}

func attackKind(req models.AttackRequest) models.AttackKind {
	if req.Mode == nil {
		return ""
	}
	return req.Mode.Kind()
}
