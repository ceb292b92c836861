// Package session is the scheduler's command interface: it reads submit
// and history commands, keeps job records current as the loop and the
// reaper report back, and runs the end-of-session shutdown.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/me/rrsched/internal/config"
	"github.com/me/rrsched/internal/launcher"
	"github.com/me/rrsched/internal/procsig"
	"github.com/me/rrsched/internal/reaper"
	"github.com/me/rrsched/internal/report"
	"github.com/me/rrsched/internal/scheduler"
	"github.com/me/rrsched/internal/store"
	"github.com/me/rrsched/pkg/model"
)

// Prompt is shown before each command when stdin is a terminal.
const Prompt = "scheduler$ "

// collectTimeout bounds the wait for terminated jobs at shutdown.
const collectTimeout = 5 * time.Second

// Submitter starts a job for a command line.
type Submitter interface {
	Submit(ctx context.Context, commandLine string) (*model.Job, error)
}

// Deps are the collaborators a Session needs.
type Deps struct {
	Store    store.Store
	Signaler procsig.Signaler
	// Launch configures the job launcher built by Attach. Ignored when
	// Submitter is set.
	Launch    launcher.Config
	Submitter Submitter
	Out       io.Writer // acks, history and the report
	Err       io.Writer // per-command errors
	Prompt    bool
	Logger    *slog.Logger
}

// Session is one run of the command interface.
type Session struct {
	cfg      config.Config
	id       string
	store    store.Store
	signaler procsig.Signaler
	launch   launcher.Config
	submit   Submitter
	loop     scheduler.Handle
	reaper   *reaper.Reaper
	out      io.Writer
	errOut   io.Writer
	prompt   bool
	base     *slog.Logger
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes launch-and-record against reap-and-complete and event
	// application, so every record is updated by one party at a time.
	mu sync.Mutex
}

// New creates a session. Attach must be called before commands run.
func New(cfg config.Config, id string, deps Deps) *Session {
	s := &Session{
		cfg:      cfg,
		id:       id,
		store:    deps.Store,
		signaler: deps.Signaler,
		launch:   deps.Launch,
		submit:   deps.Submitter,
		out:      deps.Out,
		errOut:   deps.Err,
		prompt:   deps.Prompt,
		base:     deps.Logger,
		logger:   deps.Logger.With("component", "session", "session_id", id),
		now:      time.Now,
	}
	if s.errOut == nil {
		s.errOut = s.out
	}
	s.reaper = reaper.New(s.onReaped, deps.Logger)
	return s
}

// Attach connects the session to a running scheduler loop.
func (s *Session) Attach(loop scheduler.Handle) {
	s.loop = loop
	if s.submit == nil {
		s.submit = launcher.New(s.launch, s.store, s.signaler, loop, &s.mu, s.base)
	}
}

// Run reads commands from in until EOF or ctx is done, then shuts down.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	reapCtx, stopReaper := context.WithCancel(context.Background())
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		s.reaper.Run(reapCtx)
	}()
	defer func() {
		stopReaper()
		<-reaperDone
	}()

	lines := make(chan string, 1)
	readErr := make(chan error, 1)
	next := make(chan struct{}, 1)
	defer close(next)
	go func() {
		sc := bufio.NewScanner(in)
		for range next {
			if !sc.Scan() {
				readErr <- sc.Err()
				return
			}
			lines <- sc.Text()
		}
	}()

	for {
		if s.prompt {
			fmt.Fprint(s.out, Prompt)
		}
		next <- struct{}{}

		select {
		case <-ctx.Done():
			if s.prompt {
				fmt.Fprintln(s.out)
			}
			s.logger.Info("session interrupted")
			return s.Shutdown(context.Background())
		case err := <-readErr:
			if err != nil {
				s.logger.Error("read commands", "error", err)
			}
			return s.Shutdown(context.Background())
		case line := <-lines:
			s.Execute(ctx, line)
		}
	}
}

// Execute runs one command line.
func (s *Session) Execute(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	verb, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		verb, rest = line[:i], strings.TrimSpace(line[i:])
	}

	switch verb {
	case "submit":
		s.doSubmit(ctx, rest)
	case "history":
		s.doHistory(ctx)
	default:
		fmt.Fprintf(s.errOut, "Unknown command: %s (want submit <command> or history)\n", verb)
	}
}

func (s *Session) doSubmit(ctx context.Context, commandLine string) {
	background := false
	if strings.HasSuffix(commandLine, "&") {
		background = true
		commandLine = strings.TrimSpace(strings.TrimSuffix(commandLine, "&"))
	}
	if commandLine == "" {
		fmt.Fprintln(s.errOut, "submit: missing command")
		return
	}

	job, err := s.submit.Submit(ctx, commandLine)
	if err != nil {
		fmt.Fprintf(s.errOut, "Error: %v\n", err)
		return
	}
	if !background {
		fmt.Fprintf(s.out, "Submitted process (PID: %d) is now in ready queue\n", job.PID)
	}
}

func (s *Session) doHistory(ctx context.Context) {
	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		fmt.Fprintf(s.errOut, "Error: history: %v\n", err)
		return
	}
	for _, j := range jobs {
		fmt.Fprintf(s.out, "%d: %s\n", j.Seq, j.Command)
	}
}

// OnEvent applies a loop dispatch event to the job's record. A job reaped
// before its admit arrived still gets the admission counted; every other
// event for a completed job is ignored.
func (s *Session) OnEvent(ev scheduler.Event) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.FindJob(ctx, ev.PID)
	if err != nil {
		s.logger.Error("find job", "pid", ev.PID, "error", err)
		return
	}
	if job == nil {
		return
	}

	switch ev.Kind {
	case model.DispatchAdmit:
		if job.Completed {
			job.NoteAdmission(ev.At)
		} else {
			err = job.Admit(ev.At)
		}
	case model.DispatchPreempt:
		err = job.Preempt()
	default:
		s.logger.Debug("job dropped by scheduler", "pid", ev.PID)
		return
	}
	if err != nil {
		s.logger.Debug("ignoring event", "kind", ev.Kind, "pid", ev.PID, "error", err)
		return
	}
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("update job", "pid", ev.PID, "error", err)
	}
}

// onReaped records a terminated child and tells the loop to forget it.
// Children without a live record (the loop process, already-completed jobs)
// are ignored. The loop is told while the lock is held, so a new job that
// reuses pid cannot be enqueued ahead of this exit.
func (s *Session) onReaped(pid int, exit model.ExitStatus, at time.Time) {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.FindLiveJob(ctx, pid)
	if err == nil && job != nil && job.Complete(at, exit) {
		err = s.store.UpdateJob(ctx, job)
	}
	if err != nil {
		s.logger.Error("complete job", "pid", pid, "error", err)
		return
	}
	if job == nil {
		s.logger.Debug("reaped unknown child", "pid", pid)
		return
	}
	s.logger.Info("job finished", "pid", pid, "seq", job.Seq, "duration_ms", job.DurationMs, "exit", exit.String())

	if s.loop != nil {
		if err := s.loop.Exited(pid); err != nil {
			s.logger.Warn("notify loop of exit", "pid", pid, "error", err)
		}
	}
}

// Shutdown stops the loop, writes the report, then applies the on-exit
// policy to jobs that are still live.
func (s *Session) Shutdown(ctx context.Context) error {
	var errs []error

	if s.loop != nil {
		if err := s.loop.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop loop: %w", err))
		}
	}
	s.reaper.Drain()

	jobs, err := s.store.ListJobs(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("list jobs: %w", err))...)
	}
	r := report.Build(s.id, s.cfg.NCPU, s.cfg.TSlice, jobs, s.now())
	if s.loop != nil {
		stats := s.loop.Stats()
		r.Scheduler = &stats
	}
	if err := report.Write(s.out, r, s.cfg.ReportFormat); err != nil {
		errs = append(errs, fmt.Errorf("write report: %w", err))
	}

	live := 0
	for _, j := range jobs {
		if j.Completed {
			continue
		}
		live++
		switch s.cfg.OnExit {
		case config.OnExitDetach:
			err = s.signaler.Resume(j.PID)
		default:
			err = s.signaler.Terminate(j.PID)
		}
		if err != nil && !procsig.IsGone(err) {
			s.logger.Warn("apply on-exit policy", "pid", j.PID, "policy", s.cfg.OnExit, "error", err)
		}
	}

	if live > 0 && s.cfg.OnExit != config.OnExitDetach {
		cctx, cancel := context.WithTimeout(ctx, collectTimeout)
		s.reaper.Collect(cctx)
		cancel()
	}
	s.logger.Info("session ended", "jobs", len(jobs), "live_at_exit", live, "policy", s.cfg.OnExit)
	return errors.Join(errs...)
}
