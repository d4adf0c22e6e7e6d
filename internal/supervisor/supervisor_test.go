package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writeScript drops an executable fake tool into a temp dir
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake_hashcat.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body+"\n"), 0755))
	return path
}

// collect drains the line channel until it closes
func collect(s *Supervisor) <-chan []Line {
	out := make(chan []Line, 1)
	go func() {
		var lines []Line
		for l := range s.Lines() {
			lines = append(lines, l)
		}
		out <- lines
	}()
	return out
}

func waitForLine(t *testing.T, s *Supervisor, text string) []Line {
	t.Helper()
	var seen []Line
	deadline := time.After(5 * time.Second)
	for {
		select {
		case l, ok := <-s.Lines():
			require.True(t, ok, "stream closed before %q", text)
			seen = append(seen, l)
			if l.Text == text {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", text)
		}
	}
}

func TestSupervisorStreamsLinesAndExitCode(t *testing.T) {
	script := writeScript(t, `echo "progress=10%"
echo "warning: device busy" >&2
printf 'progress=20%%\r\n'
exit 3`)

	s := New(Config{Binary: script, Dir: t.TempDir()})
	lines := collect(s)
	require.NoError(t, s.Start(context.Background()))

	exit := s.Wait()
	got := <-lines

	assert.Equal(t, ExitNormal, exit.Kind)
	assert.Equal(t, 3, exit.Code)
	assert.False(t, exit.StopRequested)
	assert.False(t, exit.TimedOut)

	var stdout, stderr []string
	for _, l := range got {
		if l.Stream == Stderr {
			stderr = append(stderr, l.Text)
		} else {
			stdout = append(stdout, l.Text)
		}
		assert.False(t, l.At.IsZero())
	}
	assert.Equal(t, []string{"progress=10%", "progress=20%"}, stdout)
	assert.Equal(t, []string{"warning: device busy"}, stderr)
}

func TestSupervisorMissingBinary(t *testing.T) {
	s := New(Config{Binary: filepath.Join(t.TempDir(), "no-such-hashcat")})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)

	_, open := <-s.Lines()
	assert.False(t, open)
	assert.Equal(t, ExitFailedToStart, s.Wait().Kind)
	assert.Equal(t, 0, s.Pid())
}

func TestSupervisorEmptyBinary(t *testing.T) {
	s := New(Config{})
	assert.ErrorIs(t, s.Start(context.Background()), ErrToolNotFound)
}

func TestSupervisorStartTwice(t *testing.T) {
	script := writeScript(t, "exit 0")
	s := New(Config{Binary: script})
	lines := collect(s)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	s.Wait()
	<-lines
}

func TestSupervisorTimeoutTerminates(t *testing.T) {
	script := writeScript(t, "exec sleep 30")

	s := New(Config{Binary: script, Timeout: 200 * time.Millisecond, StopGrace: 5 * time.Second})
	lines := collect(s)
	require.NoError(t, s.Start(context.Background()))

	exit := s.Wait()
	<-lines

	assert.True(t, exit.TimedOut)
	assert.Equal(t, ExitKilled, exit.Kind)
	assert.Equal(t, syscall.SIGTERM, exit.Signal)
	assert.Less(t, exit.Duration, 5*time.Second)
}

func TestSupervisorStopEscalatesToKill(t *testing.T) {
	script := writeScript(t, `trap '' TERM
echo ready
while true; do sleep 0.1; done`)

	s := New(Config{Binary: script, StopGrace: 200 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	waitForLine(t, s, "ready")
	lines := collect(s)

	exit := s.Stop()
	<-lines

	assert.True(t, exit.StopRequested)
	assert.Equal(t, ExitKilled, exit.Kind)
	assert.Equal(t, syscall.SIGKILL, exit.Signal)
	assert.Equal(t, "SIGKILL", exit.LastSignal)

	// a second stop after exit is harmless
	assert.Equal(t, ExitKilled, s.Stop().Kind)
}

func TestSupervisorContextCancelStops(t *testing.T) {
	script := writeScript(t, "exec sleep 30")
	ctx, cancel := context.WithCancel(context.Background())

	s := New(Config{Binary: script})
	lines := collect(s)
	require.NoError(t, s.Start(ctx))
	cancel()

	exit := s.Wait()
	<-lines
	assert.True(t, exit.StopRequested)
	assert.Equal(t, ExitKilled, exit.Kind)
}

func TestSupervisorForeignSignalIsCrash(t *testing.T) {
	script := writeScript(t, "kill -KILL $$")

	s := New(Config{Binary: script})
	lines := collect(s)
	require.NoError(t, s.Start(context.Background()))

	exit := s.Wait()
	<-lines
	assert.Equal(t, ExitCrashed, exit.Kind)
	assert.Equal(t, syscall.SIGKILL, exit.Signal)
	assert.Equal(t, "crashed with signal killed", exit.String())
}

func TestSupervisorPauseResume(t *testing.T) {
	script := writeScript(t, `echo started
for i in $(seq 1 20); do echo "tick $i"; sleep 0.05; done
exit 0`)

	s := New(Config{Binary: script, PauseGrace: 2 * time.Second})
	require.NoError(t, s.Start(context.Background()))
	waitForLine(t, s, "started")
	lines := collect(s)

	require.NoError(t, s.Pause())
	assert.True(t, s.Paused())
	// pausing twice is a no-op
	require.NoError(t, s.Pause())

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Resume())
	assert.False(t, s.Paused())

	exit := s.Wait()
	got := <-lines
	assert.Equal(t, ExitNormal, exit.Kind)
	assert.Equal(t, 0, exit.Code)
	assert.Len(t, got, 20)

	assert.ErrorIs(t, s.Pause(), ErrNotRunning)
	assert.ErrorIs(t, s.Resume(), ErrNotRunning)
}

func TestSupervisorStopWhilePaused(t *testing.T) {
	script := writeScript(t, `echo started
exec sleep 30`)

	s := New(Config{Binary: script, StopGrace: 2 * time.Second})
	require.NoError(t, s.Start(context.Background()))
	waitForLine(t, s, "started")
	lines := collect(s)

	require.NoError(t, s.Pause())
	exit := s.Stop()
	<-lines

	assert.Equal(t, ExitKilled, exit.Kind)
	assert.Equal(t, syscall.SIGTERM, exit.Signal)
	assert.False(t, s.Paused())
}

// stubbornController never reports the process as stopped
type stubbornController struct {
	*osController
}

func (c *stubbornController) Suspend() error           { return nil }
func (c *stubbornController) Suspended() (bool, error) { return false, nil }

func TestSupervisorPauseUnacknowledged(t *testing.T) {
	script := writeScript(t, "exec sleep 30")

	s := New(Config{Binary: script, PauseGrace: 100 * time.Millisecond})
	s.newController = func(pid int) (controller, error) {
		proc, err := os.FindProcess(pid)
		if err != nil {
			return nil, err
		}
		return &stubbornController{&osController{proc: proc}}, nil
	}
	lines := collect(s)
	require.NoError(t, s.Start(context.Background()))

	assert.ErrorIs(t, s.Pause(), ErrPauseUnsupported)
	assert.False(t, s.Paused())

	s.Stop()
	<-lines
}

func TestIsStoppedStatus(t *testing.T) {
	tests := map[string]bool{
		"T":         true,
		"[stop]":    true,
		"stop":      true,
		"S":         false,
		"[sleep]":   false,
		"R":         false,
		"[running]": false,
	}
	for in, want := range tests {
		assert.Equal(t, want, isStoppedStatus(in), in)
	}
}

func TestClassifyExitWithoutState(t *testing.T) {
	exit := classifyExit(nil, os.ErrProcessDone, false)
	assert.Equal(t, ExitCrashed, exit.Kind)
	assert.Equal(t, -1, exit.Code)
}
