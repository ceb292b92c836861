// Package reaper collects terminated job processes.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/me/rrsched/pkg/model"
)

// Handler is called once for every reaped child.
type Handler func(pid int, exit model.ExitStatus, at time.Time)

// WaitFunc performs one wait4(-1, ..., options) call.
type WaitFunc func(options int) (pid int, status unix.WaitStatus, err error)

func wait4(options int) (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, options, nil)
	return pid, ws, err
}

// Reaper drains every terminated child whenever SIGCHLD arrives.
type Reaper struct {
	handle Handler
	wait   WaitFunc
	now    func() time.Time
	logger *slog.Logger

	mu sync.Mutex // one drain at a time
}

// New creates a Reaper that reports to handle.
func New(handle Handler, logger *slog.Logger) *Reaper {
	return &Reaper{
		handle: handle,
		wait:   wait4,
		now:    time.Now,
		logger: logger.With("component", "reaper"),
	}
}

// Run subscribes to SIGCHLD and drains on every delivery until ctx is done.
// Signals coalesce, so each drain collects all terminated children, not one.
func (r *Reaper) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGCHLD)
	defer signal.Stop(sigCh)

	// Children may have exited before the subscription.
	r.Drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigCh:
			r.Drain()
		}
	}
}

// Drain reaps every child that has already terminated without blocking and
// returns how many were reaped.
func (r *Reaper) Drain() int {
	n, _ := r.drain(unix.WNOHANG)
	return n
}

// drain loops until wait reports nothing left. none is true when the
// process has no children at all.
func (r *Reaper) drain(options int) (n int, none bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		pid, ws, err := r.wait(options)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ECHILD) {
			return n, true
		}
		if err != nil {
			r.logger.Error("wait4", "error", err)
			return n, false
		}
		if pid <= 0 {
			return n, false
		}

		exit, ok := exitStatus(ws)
		if !ok {
			continue
		}
		n++
		r.logger.Debug("reaped", "pid", pid, "exit", exit.String())
		r.handle(pid, exit, r.now())
	}
}

// Collect blocks until every remaining child has been reaped or ctx is
// done. It is meant for shutdown, after the remaining jobs were told to
// finish.
func (r *Reaper) Collect(ctx context.Context) int {
	total := 0
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		n, none := r.drain(unix.WNOHANG)
		total += n
		if none {
			return total
		}
		select {
		case <-ctx.Done():
			r.logger.Warn("gave up waiting for children", "reaped", total)
			return total
		case <-ticker.C:
		}
	}
}

func exitStatus(ws unix.WaitStatus) (model.ExitStatus, bool) {
	switch {
	case ws.Exited():
		return model.ExitStatus{Code: ws.ExitStatus()}, true
	case ws.Signaled():
		return model.ExitStatus{Code: -1, Signal: unix.SignalName(ws.Signal())}, true
	default:
		return model.ExitStatus{}, false
	}
}
