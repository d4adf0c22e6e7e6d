package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

var (
	// ErrToolNotFound is returned when the tool binary cannot be located
	ErrToolNotFound = errors.New("tool not found")
	// ErrFailedToStart is returned when the process could not be spawned
	ErrFailedToStart = errors.New("failed to start")
	// ErrPauseUnsupported is returned when the process did not suspend within the grace period
	ErrPauseUnsupported = errors.New("process did not acknowledge pause")
	// ErrNotRunning is returned for signal requests after the process exited
	ErrNotRunning = errors.New("process is not running")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("process already started")
)

const (
	defaultStopGrace    = 10 * time.Second
	defaultPauseGrace   = 5 * time.Second
	defaultDrainTimeout = 2 * time.Second
	pausePollInterval   = 20 * time.Millisecond
	lineBufferSize      = 256
)

// Stream identifies which output a line came from
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one decoded line of tool output
type Line struct {
	Stream Stream
	Text   string
	At     time.Time
}

// Config describes one supervised process
type Config struct {
	Binary       string
	Args         []string
	Dir          string
	Env          []string
	Timeout      time.Duration
	StopGrace    time.Duration
	PauseGrace   time.Duration
	DrainTimeout time.Duration
}

// processHandle is owned by the supervisor and never handed out
type processHandle struct {
	cmd        *exec.Cmd
	ctl        controller
	stdout     *os.File
	stderr     *os.File
	startTime  time.Time
	lastSignal atomic.Value
}

func (h *processHandle) signalSent(name string) {
	h.lastSignal.Store(name)
}

func (h *processHandle) lastSignalName() string {
	if v, ok := h.lastSignal.Load().(string); ok {
		return v
	}
	return ""
}

// Supervisor runs a single external process: spawn, line streaming, pause/resume,
// two-phase stop, timeout and exit classification.
type Supervisor struct {
	cfg           Config
	newController func(pid int) (controller, error)

	mu      sync.Mutex
	handle  *processHandle
	started bool
	paused  bool

	// serializes pause and resume so polling does not hold mu
	ctlMu sync.Mutex

	lines chan Line
	done  chan struct{}
	exit  Exit

	terminateOnce sync.Once
	stopRequested atomic.Bool
	timedOut      atomic.Bool
	terminating   atomic.Bool
}

// New creates a supervisor. Nothing runs until Start.
func New(cfg Config) *Supervisor {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.PauseGrace <= 0 {
		cfg.PauseGrace = defaultPauseGrace
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Supervisor{
		cfg:           cfg,
		newController: newProcessController,
		lines:         make(chan Line, lineBufferSize),
		done:          make(chan struct{}),
	}
}

// Lines delivers output as it is produced. Callers must drain it; it is closed after the
// process is reclaimed and both streams are drained or abandoned.
func (s *Supervisor) Lines() <-chan Line {
	return s.lines
}

// Done is closed once the process has been reaped and Lines is closed
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Start spawns the process. Cancelling ctx stops it like Stop does.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	fail := func(err error) error {
		s.exit = Exit{Kind: ExitFailedToStart, Code: -1, Err: err}
		close(s.lines)
		close(s.done)
		return err
	}

	if s.cfg.Binary == "" {
		return fail(fmt.Errorf("%w: no binary configured", ErrToolNotFound))
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return fail(fmt.Errorf("%w: stdout pipe: %v", ErrFailedToStart, err))
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return fail(fmt.Errorf("%w: stderr pipe: %v", ErrFailedToStart, err))
	}

	cmd := exec.Command(s.cfg.Binary, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = s.cfg.Env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	startErr := cmd.Start()
	// the child holds its own copies of the write ends
	outW.Close()
	errW.Close()
	if startErr != nil {
		outR.Close()
		errR.Close()
		return fail(classifyStartError(startErr))
	}

	h := &processHandle{
		cmd:       cmd,
		stdout:    outR,
		stderr:    errR,
		startTime: time.Now(),
	}
	ctl, err := s.newController(cmd.Process.Pid)
	if err != nil {
		debug.Warning("process control unavailable for pid %d, falling back to os signals: %v", cmd.Process.Pid, err)
		ctl = &osController{proc: cmd.Process}
	}
	h.ctl = ctl
	s.handle = h

	debug.Debug("started %s (pid %d) in %s", s.cfg.Binary, cmd.Process.Pid, s.cfg.Dir)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.readStream(&readers, outR, Stdout)
	go s.readStream(&readers, errR, Stderr)

	go s.wait(h, &readers)
	go s.watch(ctx)

	return nil
}

func classifyStartError(err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrToolNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrFailedToStart, err)
}

func (s *Supervisor) readStream(wg *sync.WaitGroup, f *os.File, stream Stream) {
	defer wg.Done()

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		text, err := reader.ReadString('\n')
		if len(text) > 0 {
			s.lines <- Line{Stream: stream, Text: trimEOL(text), At: time.Now()}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				debug.Debug("%s read ended: %v", stream, err)
			}
			return
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// wait reaps the process, then gives the readers a bounded window before closing the
// read ends so a stray grandchild holding the pipe cannot block us.
func (s *Supervisor) wait(h *processHandle, readers *sync.WaitGroup) {
	waitErr := h.cmd.Wait()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.DrainTimeout):
		debug.Warning("output streams still open %s after exit, closing", s.cfg.DrainTimeout)
	}
	h.stdout.Close()
	h.stderr.Close()
	<-drained

	exit := classifyExit(h.cmd.ProcessState, waitErr, s.terminating.Load())
	exit.TimedOut = s.timedOut.Load()
	exit.StopRequested = s.stopRequested.Load()
	exit.Duration = time.Since(h.startTime)
	exit.LastSignal = h.lastSignalName()

	s.mu.Lock()
	s.exit = exit
	s.paused = false
	s.mu.Unlock()

	close(s.lines)
	close(s.done)
}

// watch enforces the wall-clock timeout and context cancellation
func (s *Supervisor) watch(ctx context.Context) {
	var timeout <-chan time.Time
	if s.cfg.Timeout > 0 {
		timer := time.NewTimer(s.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-s.done:
	case <-timeout:
		debug.Info("process exceeded timeout of %s, terminating", s.cfg.Timeout)
		s.timedOut.Store(true)
		s.terminate()
	case <-ctx.Done():
		s.stopRequested.Store(true)
		s.terminate()
	}
}

// Stop requests graceful termination, force-kills after the grace period and returns once
// the process has been reaped.
func (s *Supervisor) Stop() Exit {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return Exit{Kind: ExitFailedToStart, Code: -1, Err: ErrNotRunning}
	}

	s.stopRequested.Store(true)
	s.terminate()
	return s.Wait()
}

// Wait blocks until the process has been reaped and returns how it ended
func (s *Supervisor) Wait() Exit {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exit
}

func (s *Supervisor) terminate() {
	s.terminateOnce.Do(func() {
		go s.twoPhaseStop()
	})
}

func (s *Supervisor) twoPhaseStop() {
	s.mu.Lock()
	h := s.handle
	wasPaused := s.paused
	s.mu.Unlock()
	if h == nil {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	// a stopped process would not act on SIGTERM until continued
	if wasPaused {
		if err := h.ctl.Resume(); err != nil {
			debug.Warning("failed to continue paused process before stop: %v", err)
		}
	}

	s.terminating.Store(true)
	h.signalSent("SIGTERM")
	if err := h.ctl.Terminate(); err != nil {
		debug.Warning("graceful terminate failed: %v", err)
	}

	select {
	case <-s.done:
		return
	case <-time.After(s.cfg.StopGrace):
	}

	debug.Warning("process ignored SIGTERM for %s, killing", s.cfg.StopGrace)
	h.signalSent("SIGKILL")
	if err := h.ctl.Kill(); err != nil {
		debug.Error("kill failed: %v", err)
	}
}

// Pause suspends the process and confirms it is stopped within the pause grace period
func (s *Supervisor) Pause() error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	h, err := s.liveHandle()
	if err != nil {
		return err
	}
	if s.Paused() {
		return nil
	}

	if err := h.ctl.Suspend(); err != nil {
		return fmt.Errorf("%w: %v", ErrPauseUnsupported, err)
	}
	h.signalSent("SIGSTOP")

	deadline := time.Now().Add(s.cfg.PauseGrace)
	for {
		stopped, err := h.ctl.Suspended()
		if err == nil && stopped {
			s.setPaused(true)
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-s.done:
			return ErrNotRunning
		case <-time.After(pausePollInterval):
		}
	}

	if err := h.ctl.Resume(); err != nil {
		debug.Warning("failed to continue process after unacknowledged pause: %v", err)
	}
	h.signalSent("SIGCONT")
	return ErrPauseUnsupported
}

// Resume continues a paused process from where it stopped
func (s *Supervisor) Resume() error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	h, err := s.liveHandle()
	if err != nil {
		return err
	}
	if !s.Paused() {
		return nil
	}
	if err := h.ctl.Resume(); err != nil {
		return fmt.Errorf("failed to resume process: %w", err)
	}
	h.signalSent("SIGCONT")
	s.setPaused(false)
	return nil
}

func (s *Supervisor) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

// Paused reports whether the process is currently suspended
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pid returns the process id, or 0 before Start
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.cmd.Process == nil {
		return 0
	}
	return s.handle.cmd.Process.Pid
}

func (s *Supervisor) liveHandle() (*processHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil, ErrNotRunning
	}
	select {
	case <-s.done:
		return nil, ErrNotRunning
	default:
	}
	return s.handle, nil
}

// signalOf extracts the terminating signal, if any
func signalOf(state *os.ProcessState) (syscall.Signal, bool) {
	if state == nil {
		return 0, false
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return ws.Signal(), true
}
