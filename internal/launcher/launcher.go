// Package launcher turns a command line into a suspended job process and
// hands it to the scheduler loop.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/me/rrsched/internal/procsig"
	"github.com/me/rrsched/internal/store"
	"github.com/me/rrsched/pkg/model"
)

// Enqueuer accepts READY jobs for scheduling.
type Enqueuer interface {
	Enqueue(pid int) error
}

// Config describes how job processes are started.
type Config struct {
	// Path is the job shim executable, normally the running binary.
	Path string
	// Args precede "--" and the job's argv, e.g. the hidden exec-job subcommand.
	Args []string
	// Env is the job environment; nil inherits ours.
	Env []string
	// Stdout and Stderr are inherited by every job.
	Stdout *os.File
	Stderr *os.File
	// ReadyTimeout bounds the wait for the shim's readiness byte.
	ReadyTimeout time.Duration
}

// Launcher starts job processes.
type Launcher struct {
	config   Config
	store    store.Store
	signaler procsig.Signaler
	queue    Enqueuer
	lock     sync.Locker
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Launcher. lock is held while a ready job is suspended,
// recorded and enqueued, so a reaper holding the same lock always finds the
// record and the loop hears of a reused PID in order.
func New(cfg Config, st store.Store, sig procsig.Signaler, queue Enqueuer, lock sync.Locker, logger *slog.Logger) *Launcher {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Launcher{
		config:   cfg,
		store:    st,
		signaler: sig,
		queue:    queue,
		lock:     lock,
		logger:   logger.With("component", "launcher"),
		now:      time.Now,
	}
}

// Submit starts commandLine as a suspended job, records it READY and hands
// it to the scheduler. It never waits for the command itself.
func (l *Launcher) Submit(ctx context.Context, commandLine string) (*model.Job, error) {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return nil, &model.LaunchError{Command: commandLine, Err: model.ErrEmptyCommand}
	}
	command := strings.TrimSpace(commandLine)

	pid, submittedAt, err := l.spawn(argv)
	if err != nil {
		return nil, &model.LaunchError{Command: command, Err: err}
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	job, err := l.register(ctx, pid, command, argv, submittedAt)
	if err != nil {
		l.kill(pid, "kill half-started job")
		return nil, &model.LaunchError{Command: command, Err: err}
	}

	if err := l.queue.Enqueue(job.PID); err != nil {
		l.logger.Error("enqueue failed, terminating job", "pid", job.PID, "error", err)
		l.kill(job.PID, "terminate")
		return job, &model.LaunchError{Command: command, Err: fmt.Errorf("enqueue: %w", err)}
	}

	l.logger.Debug("job submitted", "pid", job.PID, "seq", job.Seq, "command", command)
	return job, nil
}

// spawn starts the shim and waits for its readiness byte. From then on the
// shim blocks until resumed, so this runs without the lock.
func (l *Launcher) spawn(argv []string) (int, time.Time, error) {
	ready, readyW, err := os.Pipe()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("ready pipe: %w", err)
	}
	defer ready.Close()

	args := append(append(append([]string(nil), l.config.Args...), "--"), argv...)
	cmd := exec.Command(l.config.Path, args...)
	cmd.Env = l.config.Env
	if l.config.Stdout != nil {
		cmd.Stdout = l.config.Stdout
	}
	if l.config.Stderr != nil {
		cmd.Stderr = l.config.Stderr
	}
	cmd.ExtraFiles = []*os.File{readyW}
	// A group per job lets signals reach everything the command forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		readyW.Close()
		return 0, time.Time{}, fmt.Errorf("start process: %w", err)
	}
	readyW.Close()
	pid := cmd.Process.Pid
	// Jobs are reaped by the reaper, never through cmd.Wait.
	defer cmd.Process.Release()

	if err := l.awaitReady(ready); err != nil {
		l.kill(pid, "kill half-started job")
		return 0, time.Time{}, err
	}
	return pid, l.now(), nil
}

// register suspends a ready job and records it READY. Callers hold the lock.
func (l *Launcher) register(ctx context.Context, pid int, command string, argv []string, submittedAt time.Time) (*model.Job, error) {
	if err := l.signaler.Suspend(pid); err != nil {
		return nil, fmt.Errorf("suspend: %w", err)
	}
	job := model.NewJob(pid, command, argv, submittedAt)
	if err := job.Transition(model.JobStateReady); err != nil {
		return nil, err
	}
	if err := l.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}
	return job, nil
}

func (l *Launcher) kill(pid int, msg string) {
	if err := l.signaler.Terminate(pid); err != nil && !procsig.IsGone(err) {
		l.logger.Error(msg, "pid", pid, "error", err)
	}
}

func (l *Launcher) awaitReady(ready *os.File) error {
	if err := ready.SetReadDeadline(time.Now().Add(l.config.ReadyTimeout)); err != nil {
		return fmt.Errorf("ready deadline: %w", err)
	}
	buf := make([]byte, 1)
	if _, err := ready.Read(buf); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("job did not report ready within %s", l.config.ReadyTimeout)
		}
		return fmt.Errorf("await ready: %w", err)
	}
	return nil
}
