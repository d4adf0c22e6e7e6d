package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ZerkerEOD/krakenwifi/internal/events"
	"github.com/ZerkerEOD/krakenwifi/internal/hashcat"
	"github.com/ZerkerEOD/krakenwifi/internal/jobs"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/internal/supervisor"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// Tool exit codes
const (
	exitCracked    = 0
	exitExhausted  = 1
	exitAborted    = 2
	exitCheckpoint = 3
	exitRuntime    = 4
)

type intentKind int

const (
	intentPause intentKind = iota
	intentResume
)

type intent struct {
	kind  intentKind
	reply chan error
}

// worker owns one admitted job from admission to its terminal state. Everything that touches
// the job's process or persists its progress happens on the worker goroutine.
type worker struct {
	e *Engine
	m *jobs.Machine

	intents chan intent
	stopCh  chan struct{}
	done    chan struct{}

	limiter *rate.Limiter
	// accepted but not yet persisted
	unsaved *models.ProgressSnapshot

	kind       models.AttackKind
	outfile    string
	exhausted  bool
	lastStderr string
}

func newWorker(e *Engine, m *jobs.Machine) *worker {
	limit := rate.Inf
	if e.opts.ProgressPersistInterval > 0 {
		limit = rate.Every(e.opts.ProgressPersistInterval)
	}
	return &worker{
		e:       e,
		m:       m,
		intents: make(chan intent),
		stopCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// request hands a pause or resume to the worker and waits for its answer
func (w *worker) request(ctx context.Context, kind intentKind) error {
	in := intent{kind: kind, reply: make(chan error, 1)}
	select {
	case w.intents <- in:
	case <-w.done:
		return fmt.Errorf("%w: job %s finished", jobs.ErrJobTerminal, w.m.ID())
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) stop() {
	select {
	case w.stopCh <- struct{}{}:
	default:
	}
}

func (w *worker) run(ctx context.Context) {
	defer w.finish()
	// persistence outlives shutdown so the terminal state always lands
	store := context.WithoutCancel(ctx)

	tr, err := w.m.Admit()
	if err != nil {
		debug.Error("failed to admit job %s: %v", w.m.ID(), err)
		return
	}
	w.e.persistTransition(store, tr)
	if tr.To != models.JobStateRunning {
		return
	}

	req := w.m.Snapshot().Request
	w.kind = attackKind(req)

	layout, err := w.e.workspace.Prepare(req)
	if err != nil {
		w.fail(store, models.CauseFailedToStart, err.Error())
		return
	}
	inv, err := hashcat.Build(req, layout, hashcat.Options{
		DefaultWorkload: w.e.opts.DefaultWorkload,
		StatusTimer:     w.e.opts.StatusTimer,
	})
	if err != nil {
		w.fail(store, models.CauseFailedToStart, err.Error())
		return
	}
	w.outfile = inv.OutputPath

	sup := w.e.spawn(supervisor.Config{
		Binary:     w.e.opts.HashcatPath,
		Args:       inv.Args,
		Dir:        inv.WorkDir,
		Timeout:    w.timeout(req),
		StopGrace:  w.e.opts.StopGrace,
		PauseGrace: w.e.opts.PauseGrace,
	})
	if err := sup.Start(ctx); err != nil {
		cause := models.CauseFailedToStart
		if errors.Is(err, supervisor.ErrToolNotFound) {
			cause = models.CauseToolNotFound
		}
		w.fail(store, cause, err.Error())
		return
	}
	debug.Fields(debug.LevelInfo, "job process started", map[string]interface{}{
		"job_id":  w.m.ID(),
		"pid":     sup.Pid(),
		"session": inv.SessionName,
		"timeout": w.timeout(req).String(),
	})

	exit := w.loop(ctx, store, sup)
	w.complete(ctx, store, exit)
}

// timeout is the request's own deadline, else the per-mode default
func (w *worker) timeout(req models.AttackRequest) time.Duration {
	if req.Hints.TimeoutSeconds > 0 {
		return time.Duration(req.Hints.TimeoutSeconds) * time.Second
	}
	return w.e.opts.ModeTimeouts[w.kind]
}

func (w *worker) loop(ctx, store context.Context, sup process) supervisor.Exit {
	stopping := false
	requestStop := func() {
		if stopping {
			return
		}
		stopping = true
		debug.Info("stopping job %s (pid %d)", w.m.ID(), sup.Pid())
		// Stop blocks until the process is reaped; the loop keeps draining lines meanwhile
		go sup.Stop()
	}
	if w.m.StopRequested() {
		requestStop()
	}

	lines := sup.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return sup.Wait()
			}
			w.handleLine(store, line)
		case <-w.stopCh:
			requestStop()
		case in := <-w.intents:
			if stopping {
				in.reply <- fmt.Errorf("%w: job %s is stopping", jobs.ErrUnsupportedOperation, w.m.ID())
				continue
			}
			in.reply <- w.handleIntent(store, sup, in.kind)
		}
	}
}

func (w *worker) handleLine(ctx context.Context, line supervisor.Line) {
	if line.Stream == supervisor.Stderr {
		if text := strings.TrimSpace(line.Text); text != "" {
			w.lastStderr = text
		}
	}

	rec, ok := hashcat.ParseStatusLine(line.Text, line.At)
	if !ok {
		return
	}
	for _, pw := range rec.Warnings {
		debug.Warning("job %s: %v", w.m.ID(), pw)
	}
	if rec.Exhausted() {
		w.exhausted = true
	}

	prev := w.m.Progress()
	snap, err := w.m.RecordProgress(rec.Apply(prev, line.At))
	if err != nil {
		return
	}
	w.unsaved = &snap

	crackedMore := snap.Cracked > prev.Cracked
	if crackedMore || w.limiter.Allow() {
		w.flushProgress(ctx)
	}
	w.e.events.Publish(ctx, events.Event{
		Type:     events.TypeProgress,
		JobID:    w.m.ID(),
		State:    models.JobStateRunning,
		Progress: &snap,
		At:       snap.RecordedAt,
	})
	if crackedMore {
		w.harvest(ctx, true)
	}
}

func (w *worker) handleIntent(ctx context.Context, sup process, kind intentKind) error {
	switch kind {
	case intentPause:
		if err := sup.Pause(); err != nil {
			w.m.AbortPause()
			if errors.Is(err, supervisor.ErrPauseUnsupported) {
				return fmt.Errorf("%w: %v", jobs.ErrUnsupportedOperation, err)
			}
			return err
		}
		// progress rows are only accepted while running
		w.flushProgress(ctx)
		tr, err := w.m.ConfirmPause()
		if err != nil {
			if rerr := sup.Resume(); rerr != nil {
				debug.Warning("job %s: failed to undo suspend: %v", w.m.ID(), rerr)
			}
			return err
		}
		w.e.persistTransition(ctx, tr)
		return nil

	case intentResume:
		if err := sup.Resume(); err != nil {
			return err
		}
		tr, err := w.m.ConfirmResume()
		if err != nil {
			return err
		}
		w.e.persistTransition(ctx, tr)
		return nil
	}
	return fmt.Errorf("%w: unknown intent %d", jobs.ErrUnsupportedOperation, kind)
}

func (w *worker) flushProgress(ctx context.Context) {
	if w.unsaved == nil {
		return
	}
	snap := *w.unsaved
	w.unsaved = nil
	if err := w.e.store.AppendProgress(ctx, w.m.ID(), snap); err != nil {
		debug.Warning("failed to persist progress for job %s: %v", w.m.ID(), err)
	}
}

// harvest reads the output file into the store and returns how many results it holds
func (w *worker) harvest(ctx context.Context, partial bool) (int, error) {
	report, err := w.e.harvester.Harvest(ctx, w.m.ID(), w.outfile, w.kind, partial)
	if err != nil {
		if partial {
			debug.Warning("live harvest for job %s failed: %v", w.m.ID(), err)
		}
		return 0, err
	}
	if report.Inserted > 0 {
		w.e.events.Publish(ctx, events.Event{Type: events.TypeResults, JobID: w.m.ID(), Results: report.Inserted})
	}
	return len(report.Results), nil
}

// complete harvests, classifies the exit and applies the terminal transition
func (w *worker) complete(ctx, store context.Context, exit supervisor.Exit) {
	results, err := w.harvest(store, false)
	if err != nil {
		w.e.warn(store, w.m, w.m.ID(), fmt.Sprintf("result harvest failed: %v", err))
		results = 0
	}

	w.flushProgress(store)

	state, cause, reason := w.outcome(ctx, exit, results)
	debug.Fields(debug.LevelInfo, "job process exited", map[string]interface{}{
		"job_id":   w.m.ID(),
		"exit":     exit.String(),
		"duration": exit.Duration.String(),
		"outcome":  state,
		"results":  results,
	})

	// a suspended process can still be killed from outside; let the outcome apply from Running
	if w.m.State() == models.JobStatePaused && !jobs.CanTransition(models.JobStatePaused, state) {
		if tr, err := w.m.ConfirmResume(); err == nil {
			w.e.persistTransition(store, tr)
		}
	}

	tr, err := w.m.Transition(state, cause, reason)
	if err != nil {
		if cause == models.CauseNone {
			cause = models.CauseToolError
		}
		tr, err = w.m.Transition(models.JobStateFailed, cause, reason)
		if err != nil {
			debug.Error("job %s: no terminal transition possible from %s: %v", w.m.ID(), w.m.State(), err)
			return
		}
	}
	w.e.persistTransition(store, tr)
}

// outcome maps how the process ended onto a terminal state
func (w *worker) outcome(ctx context.Context, exit supervisor.Exit, results int) (models.JobState, models.FailureCause, string) {
	switch {
	case exit.TimedOut:
		return models.JobStateFailed, models.CauseTimeout, fmt.Sprintf("timed out after %s", exit.Duration.Round(time.Second))
	case w.m.StopRequested():
		return models.JobStateStopped, models.CauseNone, "stopped by request"
	case ctx.Err() != nil:
		return models.JobStateFailed, models.CauseShutdown, "engine shut down"
	case exit.Kind == supervisor.ExitKilled:
		return models.JobStateFailed, models.CauseKilled, exit.String()
	case exit.Kind == supervisor.ExitCrashed:
		return models.JobStateFailed, models.CauseCrashedWithSignal, exit.String()
	case exit.Kind == supervisor.ExitFailedToStart:
		return models.JobStateFailed, models.CauseFailedToStart, exit.String()
	}

	cracked := w.m.Progress().Cracked
	if results > cracked {
		cracked = results
	}

	switch exit.Code {
	case exitCracked, exitExhausted, exitAborted, exitCheckpoint, exitRuntime:
		if cracked > 0 {
			return models.JobStateCracked, models.CauseNone, ""
		}
		if exit.Code == exitExhausted || w.exhausted || w.m.Progress().Percent >= 100 {
			return models.JobStateExhausted, models.CauseNone, ""
		}
		return models.JobStateCompleted, models.CauseNone, exit.String()
	}

	reason := exit.String()
	if w.lastStderr != "" {
		reason = fmt.Sprintf("%s: %s", reason, w.lastStderr)
	}
	return models.JobStateFailed, models.CauseToolError, reason
}

// fail ends a job that never got a running process. A stop that arrived first wins.
func (w *worker) fail(ctx context.Context, cause models.FailureCause, reason string) {
	to := models.JobStateFailed
	if w.m.StopRequested() {
		debug.Info("job %s: stop requested before start failed (%s)", w.m.ID(), reason)
		to, cause = models.JobStateStopped, models.CauseNone
	}
	tr, err := w.m.Transition(to, cause, reason)
	if err != nil {
		return
	}
	w.e.persistTransition(ctx, tr)
}

func (w *worker) finish() {
	id := w.m.ID()
	w.e.registry.Remove(id)
	w.e.mu.Lock()
	delete(w.e.workers, id)
	w.e.mu.Unlock()
	close(w.done)
	w.e.sched.Release(id)
}
