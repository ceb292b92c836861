package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/rrsched/internal/procsig"
	"github.com/me/rrsched/internal/queue"
	"github.com/me/rrsched/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	NCPU   int
	TSlice time.Duration
}

// Event reports one scheduling decision.
type Event struct {
	Kind model.DispatchKind
	PID  int
	At   time.Time
}

// Observer receives events from the loop goroutine. It must not block for long.
type Observer func(Event)

var (
	_ Scheduler = (*Loop)(nil)
	_ Handle    = (*Loop)(nil)
)

type inboxMsg struct {
	pid    int
	exited bool
}

var errStopped = errors.New("scheduler stopped")

// Loop implements the Scheduler interface: every cycle it resumes up to NCPU
// jobs from the head of the ready queue, lets them run for one time slice,
// then suspends them and puts them back at the tail.
type Loop struct {
	config   Config
	signaler procsig.Signaler
	observe  Observer
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending []inboxMsg
	ready   *queue.Ready
	live    map[int]struct{} // queued or admitted
	stats   model.LoopStats

	wake     chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// NewLoop creates a new scheduler loop. observe may be nil.
func NewLoop(cfg Config, sig procsig.Signaler, observe Observer, logger *slog.Logger) *Loop {
	if observe == nil {
		observe = func(Event) {}
	}
	return &Loop{
		config:   cfg,
		signaler: sig,
		observe:  observe,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
		ready:    queue.NewReady(),
		live:     make(map[int]struct{}),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Enqueue hands pid to the loop. It never blocks; the job is queued at the
// start of the next cycle or immediately if a slice is in progress.
func (l *Loop) Enqueue(pid int) error {
	l.post(inboxMsg{pid: pid})
	return nil
}

// Exited tells the loop pid has terminated.
func (l *Loop) Exited(pid int) error {
	l.post(inboxMsg{pid: pid, exited: true})
	return nil
}

func (l *Loop) post(m inboxMsg) {
	l.mu.Lock()
	l.pending = append(l.pending, m)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.started.Store(true)
	defer close(l.doneCh)
	l.logger.Info("scheduler started", "ncpu", l.config.NCPU, "tslice", l.config.TSlice)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		default:
		}

		if err := l.Cycle(ctx); err != nil && !errors.Is(err, errStopped) && ctx.Err() == nil {
			l.logger.Error("cycle error", "error", err)
		}

		if l.Queued() == 0 {
			// Nothing to schedule: sleep until a message arrives.
			select {
			case <-ctx.Done():
			case <-l.stopCh:
			case <-l.wake:
			}
		}
	}
}

// Stop shuts the loop down and waits for the current cycle to return.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started.Load() {
		<-l.doneCh
	}
	return nil
}

// Cycle runs a single admit/run/preempt iteration. With nothing queued it
// returns immediately without consuming a slice.
func (l *Loop) Cycle(ctx context.Context) error {
	l.drain()

	admitted := l.admit()
	if len(admitted) == 0 {
		return nil
	}

	if err := l.runSlice(ctx); err != nil {
		return err
	}

	l.preempt(admitted)
	return nil
}

// drain applies every pending inbox message.
func (l *Loop) drain() {
	l.mu.Lock()
	msgs := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, m := range msgs {
		if m.exited {
			l.forget(m.pid)
			continue
		}
		l.mu.Lock()
		_, known := l.live[m.pid]
		var err error
		if !known {
			err = l.ready.Enqueue(m.pid)
			if err == nil {
				l.live[m.pid] = struct{}{}
			}
		}
		l.mu.Unlock()
		if known || err != nil {
			l.logger.Warn("ignoring duplicate enqueue", "pid", m.pid)
			continue
		}
		l.logger.Debug("job queued", "pid", m.pid)
	}
}

// forget removes an exited job. A job still waiting in the queue is dropped
// here; an admitted one is dropped when its slice ends.
func (l *Loop) forget(pid int) {
	l.mu.Lock()
	_, known := l.live[pid]
	delete(l.live, pid)
	queued := l.ready.Remove(pid)
	if queued {
		l.stats.Drops++
	}
	l.mu.Unlock()

	if !known {
		return
	}
	l.logger.Debug("job exited", "pid", pid, "was_queued", queued)
	if queued {
		l.observe(Event{Kind: model.DispatchDrop, PID: pid, At: l.now()})
	}
}

// admit resumes up to NCPU jobs from the head of the queue.
func (l *Loop) admit() []int {
	admitted := make([]int, 0, l.config.NCPU)
	for len(admitted) < l.config.NCPU {
		l.mu.Lock()
		pid, ok := l.ready.Dequeue()
		l.mu.Unlock()
		if !ok {
			break
		}

		if err := l.signaler.Resume(pid); err != nil {
			l.drop(pid, "resume", err)
			continue
		}
		admitted = append(admitted, pid)
		l.observe(Event{Kind: model.DispatchAdmit, PID: pid, At: l.now()})
	}

	if len(admitted) > 0 {
		l.mu.Lock()
		l.stats.Cycles++
		l.stats.Admissions += len(admitted)
		if len(admitted) > l.stats.PeakConcurrency {
			l.stats.PeakConcurrency = len(admitted)
		}
		l.mu.Unlock()
		l.logger.Debug("admitted", "pids", admitted)
	}
	return admitted
}

// runSlice waits one time slice, applying inbox messages as they arrive.
func (l *Loop) runSlice(ctx context.Context) error {
	timer := time.NewTimer(l.config.TSlice)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return errStopped
		case <-l.wake:
			l.drain()
		case <-timer.C:
			return nil
		}
	}
}

// preempt suspends every admitted job that is still alive and requeues it.
func (l *Loop) preempt(admitted []int) {
	for _, pid := range admitted {
		l.mu.Lock()
		_, alive := l.live[pid]
		l.mu.Unlock()
		if !alive {
			l.mu.Lock()
			l.stats.Drops++
			l.mu.Unlock()
			l.observe(Event{Kind: model.DispatchDrop, PID: pid, At: l.now()})
			continue
		}

		if err := l.signaler.Suspend(pid); err != nil {
			l.drop(pid, "suspend", err)
			continue
		}

		l.mu.Lock()
		err := l.ready.Enqueue(pid)
		if err == nil {
			l.stats.Preemptions++
		}
		l.mu.Unlock()
		if err != nil {
			l.logger.Error("requeue", "pid", pid, "error", err)
			continue
		}
		l.observe(Event{Kind: model.DispatchPreempt, PID: pid, At: l.now()})
	}
}

// drop discards a job whose signal could not be delivered.
func (l *Loop) drop(pid int, op string, err error) {
	if procsig.IsGone(err) {
		l.logger.Debug("job gone", "pid", pid, "op", op)
	} else {
		l.logger.Error("signal failed, dropping job", "pid", pid, "op", op, "error", err)
	}
	l.mu.Lock()
	delete(l.live, pid)
	l.ready.Remove(pid)
	l.stats.Drops++
	l.mu.Unlock()
	l.observe(Event{Kind: model.DispatchDrop, PID: pid, At: l.now()})
}

// Queued returns the number of jobs waiting in the ready queue.
func (l *Loop) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready.Len()
}

// QueueSnapshot returns the queued PIDs, head first.
func (l *Loop) QueueSnapshot() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready.Snapshot()
}

// Stats returns a copy of the loop counters.
func (l *Loop) Stats() model.LoopStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
