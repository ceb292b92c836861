package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/me/rrsched/internal/ipc"
	"github.com/me/rrsched/internal/procsig"
	"github.com/me/rrsched/pkg/model"
)

var _ Handle = (*Remote)(nil)

var eventKinds = map[model.DispatchKind]ipc.Kind{
	model.DispatchAdmit:   ipc.KindAdmit,
	model.DispatchPreempt: ipc.KindPreempt,
	model.DispatchDrop:    ipc.KindDrop,
}

var dispatchKinds = map[ipc.Kind]model.DispatchKind{
	ipc.KindAdmit:   model.DispatchAdmit,
	ipc.KindPreempt: model.DispatchPreempt,
	ipc.KindDrop:    model.DispatchDrop,
}

// RunProcess hosts a Loop inside the loop process. It reads enqueue/exit
// messages from in, writes every scheduling event to out, and returns when
// ctx is cancelled or in reaches EOF. The loop counters are sent as the
// final message.
func RunProcess(ctx context.Context, cfg Config, sig procsig.Signaler, in io.Reader, out io.Writer, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := ipc.NewEncoder(out)
	observe := func(ev Event) {
		msg := ipc.Message{Kind: eventKinds[ev.Kind], PID: ev.PID, At: ev.At}
		if err := enc.Send(msg); err != nil {
			logger.Warn("send event", "kind", ev.Kind, "pid", ev.PID, "error", err)
		}
	}
	loop := NewLoop(cfg, sig, observe, logger)

	go func() {
		defer cancel()
		dec := ipc.NewDecoder(in)
		for {
			msg, err := dec.Next()
			if errors.Is(err, ipc.ErrMalformed) {
				logger.Warn("skipping message", "error", err)
				continue
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Error("read inbox", "error", err)
				}
				return
			}
			switch msg.Kind {
			case ipc.KindEnqueue:
				loop.Enqueue(msg.PID)
			case ipc.KindExit:
				loop.Exited(msg.PID)
			default:
				logger.Warn("unexpected message", "kind", msg.Kind, "pid", msg.PID)
			}
		}
	}()

	err := loop.Start(ctx)

	stats := loop.Stats()
	logger.Info("scheduler stopped", "cycles", stats.Cycles, "admissions", stats.Admissions,
		"preemptions", stats.Preemptions, "drops", stats.Drops, "peak_concurrency", stats.PeakConcurrency)
	if serr := enc.Send(ipc.Message{Kind: ipc.KindStats, At: time.Now(), Stats: &stats}); serr != nil {
		logger.Warn("send stats", "error", serr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RemoteConfig describes how to start the loop process.
type RemoteConfig struct {
	// Path is the executable, normally the running binary.
	Path string
	// Args follow the program name, e.g. the hidden run-loop subcommand.
	Args []string
	// Env is the loop process environment; nil inherits ours.
	Env []string
	// Stderr receives the loop process's logs.
	Stderr io.Writer
	// StopTimeout bounds how long Stop waits for a clean exit before killing.
	StopTimeout time.Duration
}

// Remote is the interface-side handle to a loop process.
type Remote struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	enc     *ipc.Encoder
	done    chan struct{}
	timeout time.Duration
	logger  *slog.Logger

	stopOnce sync.Once
	stopErr  error

	mu    sync.Mutex
	stats model.LoopStats
}

// StartRemote spawns the loop process. onEvent is called from a reader
// goroutine for every event the loop reports.
func StartRemote(cfg RemoteConfig, onEvent Observer, logger *slog.Logger) (*Remote, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	logger = logger.With("component", "loop-remote")

	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Stderr = cfg.Stderr
	// Own process group keeps the terminal's SIGINT away; Pdeathsig ends
	// the loop if the interface process dies without closing stdin.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("loop stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("loop stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start loop process: %w", err)
	}
	logger.Debug("loop process started", "pid", cmd.Process.Pid)

	r := &Remote{
		cmd:     cmd,
		stdin:   stdin,
		enc:     ipc.NewEncoder(stdin),
		done:    make(chan struct{}),
		timeout: cfg.StopTimeout,
		logger:  logger,
	}
	go r.readEvents(stdout, onEvent)
	return r, nil
}

func (r *Remote) readEvents(stdout io.Reader, onEvent Observer) {
	defer close(r.done)
	dec := ipc.NewDecoder(stdout)
	for {
		msg, err := dec.Next()
		if errors.Is(err, ipc.ErrMalformed) {
			r.logger.Warn("skipping event", "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Error("read events", "error", err)
			}
			return
		}
		if msg.Kind == ipc.KindStats {
			r.mu.Lock()
			r.stats = *msg.Stats
			r.mu.Unlock()
			continue
		}
		kind, ok := dispatchKinds[msg.Kind]
		if !ok {
			r.logger.Warn("unexpected event", "kind", msg.Kind, "pid", msg.PID)
			continue
		}
		if onEvent != nil {
			onEvent(Event{Kind: kind, PID: msg.PID, At: msg.At})
		}
	}
}

// PID returns the loop process ID.
func (r *Remote) PID() int {
	return r.cmd.Process.Pid
}

// Enqueue sends pid to the loop.
func (r *Remote) Enqueue(pid int) error {
	return r.enc.Send(ipc.Message{Kind: ipc.KindEnqueue, PID: pid, At: time.Now()})
}

// Exited tells the loop pid has terminated.
func (r *Remote) Exited(pid int) error {
	return r.enc.Send(ipc.Message{Kind: ipc.KindExit, PID: pid, At: time.Now()})
}

// Stats returns the counters the loop process reported on exit, or zero
// values before then.
func (r *Remote) Stats() model.LoopStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Done is closed once the loop process has closed its event stream.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Stop closes the loop's inbox, waits for it to exit and kills it if it
// does not do so within the stop timeout. Safe to call more than once.
func (r *Remote) Stop() error {
	r.stopOnce.Do(func() {
		r.stdin.Close()

		select {
		case <-r.done:
		case <-time.After(r.timeout):
			r.logger.Warn("loop process did not exit, killing", "pid", r.PID())
			r.cmd.Process.Kill()
			<-r.done
		}

		// The interface process reaps every child on SIGCHLD, so the loop may
		// already be gone by the time Wait runs.
		err := r.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil, errors.Is(err, syscall.ECHILD):
		case errors.As(err, &exitErr):
			r.logger.Debug("loop process exited", "status", exitErr.ProcessState.String())
		default:
			r.stopErr = fmt.Errorf("wait loop process: %w", err)
		}
	})
	return r.stopErr
}
