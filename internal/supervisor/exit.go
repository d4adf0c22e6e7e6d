package supervisor

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// ExitKind classifies how a supervised process ended
type ExitKind int

const (
	// ExitNormal means the process exited on its own with Code
	ExitNormal ExitKind = iota
	// ExitKilled means the process died from a signal the supervisor sent
	ExitKilled
	// ExitCrashed means the process died from a signal nobody here sent
	ExitCrashed
	// ExitFailedToStart means no process ever ran
	ExitFailedToStart
)

func (k ExitKind) String() string {
	switch k {
	case ExitNormal:
		return "normal_exit"
	case ExitKilled:
		return "killed"
	case ExitCrashed:
		return "crashed_with_signal"
	case ExitFailedToStart:
		return "failed_to_start"
	}
	return "unknown"
}

// Exit is the final outcome of a supervised process
type Exit struct {
	Kind          ExitKind
	Code          int
	Signal        syscall.Signal
	Err           error
	TimedOut      bool
	StopRequested bool
	LastSignal    string
	Duration      time.Duration
}

func (e Exit) String() string {
	switch e.Kind {
	case ExitNormal:
		return fmt.Sprintf("exited with code %d", e.Code)
	case ExitKilled:
		return fmt.Sprintf("killed by %s", e.Signal)
	case ExitCrashed:
		return fmt.Sprintf("crashed with signal %s", e.Signal)
	case ExitFailedToStart:
		return fmt.Sprintf("failed to start: %v", e.Err)
	}
	return "unknown exit"
}

// classifyExit turns the OS view of an exit into an Exit. terminating is true when the
// supervisor itself delivered a terminate or kill signal.
func classifyExit(state *os.ProcessState, waitErr error, terminating bool) Exit {
	if sig, ok := signalOf(state); ok {
		kind := ExitCrashed
		if terminating && (sig == syscall.SIGTERM || sig == syscall.SIGKILL) {
			kind = ExitKilled
		}
		return Exit{Kind: kind, Code: -1, Signal: sig, Err: waitErr}
	}

	if state == nil {
		return Exit{Kind: ExitCrashed, Code: -1, Err: waitErr}
	}

	return Exit{Kind: ExitNormal, Code: state.ExitCode()}
}
