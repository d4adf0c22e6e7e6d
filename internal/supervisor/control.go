package supervisor

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/process"
)

// controller delivers lifecycle signals to a running process
type controller interface {
	Suspend() error
	Resume() error
	Terminate() error
	Kill() error
	Suspended() (bool, error)
}

type processController struct {
	proc *process.Process
}

func newProcessController(pid int) (controller, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to pid %d: %w", pid, err)
	}
	return &processController{proc: p}, nil
}

func (c *processController) Suspend() error   { return c.proc.Suspend() }
func (c *processController) Resume() error    { return c.proc.Resume() }
func (c *processController) Terminate() error { return c.proc.Terminate() }
func (c *processController) Kill() error      { return c.proc.Kill() }

func (c *processController) Suspended() (bool, error) {
	status, err := c.proc.Status()
	if err != nil {
		return false, err
	}
	// older releases report the raw state letter, newer ones a word list
	return isStoppedStatus(fmt.Sprint(status)), nil
}

func isStoppedStatus(status string) bool {
	s := strings.ToLower(strings.Trim(status, "[] "))
	return s == "t" || strings.HasPrefix(s, "stop")
}

// osController is used when the process table cannot be inspected
type osController struct {
	proc    *os.Process
	stopped bool
}

func (c *osController) Suspend() error {
	if err := c.proc.Signal(syscall.SIGSTOP); err != nil {
		return err
	}
	c.stopped = true
	return nil
}

func (c *osController) Resume() error {
	if err := c.proc.Signal(syscall.SIGCONT); err != nil {
		return err
	}
	c.stopped = false
	return nil
}

func (c *osController) Terminate() error { return c.proc.Signal(syscall.SIGTERM) }
func (c *osController) Kill() error      { return c.proc.Kill() }

func (c *osController) Suspended() (bool, error) {
	return c.stopped, nil
}
