// Package procsig delivers the scheduling signals to job processes.
package procsig

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/me/rrsched/pkg/model"
)

// Signaler resumes, suspends and kills job processes by PID.
type Signaler interface {
	Resume(pid int) error
	Suspend(pid int) error
	Terminate(pid int) error
}

// Process signals real OS processes. With Group set, the signal goes to the
// job's process group (the launcher makes every job a group leader), so
// children forked by the command are stopped and continued with it.
type Process struct {
	Group bool
}

// Resume sends SIGCONT.
func (p Process) Resume(pid int) error {
	return p.send(pid, unix.SIGCONT)
}

// Suspend sends SIGSTOP.
func (p Process) Suspend(pid int) error {
	return p.send(pid, unix.SIGSTOP)
}

// Terminate sends SIGKILL, which also ends a stopped process.
func (p Process) Terminate(pid int) error {
	return p.send(pid, unix.SIGKILL)
}

func (p Process) send(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return &model.SignalError{PID: pid, Signal: unix.SignalName(sig), Err: model.ErrProcessGone}
	}
	target := pid
	if p.Group {
		target = -pid
	}
	err := unix.Kill(target, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		err = model.ErrProcessGone
	}
	return &model.SignalError{PID: pid, Signal: unix.SignalName(sig), Err: err}
}

// IsGone reports whether err means the target process no longer exists.
func IsGone(err error) bool {
	return errors.Is(err, model.ErrProcessGone)
}
