package scheduler

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/me/rrsched/internal/ipc"
	"github.com/me/rrsched/internal/logging"
	"github.com/me/rrsched/pkg/model"
)

const loopProcessEnv = "RRSCHED_TEST_LOOP_PROCESS"

// TestMain lets the test binary stand in for the loop process.
func TestMain(m *testing.M) {
	if os.Getenv(loopProcessEnv) == "1" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
		defer stop()
		cfg := Config{NCPU: 1, TSlice: 5 * time.Millisecond}
		err := RunProcess(ctx, cfg, okSignaler{}, os.Stdin, os.Stdout, logging.Discard())
		if err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// okSignaler accepts every signal.
type okSignaler struct{}

func (okSignaler) Resume(int) error    { return nil }
func (okSignaler) Suspend(int) error   { return nil }
func (okSignaler) Terminate(int) error { return nil }

func TestRunProcess_InProcess(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	errCh := make(chan error, 1)
	go func() {
		cfg := Config{NCPU: 1, TSlice: 2 * time.Millisecond}
		errCh <- RunProcess(context.Background(), cfg, okSignaler{}, inR, outW, logging.Discard())
		outW.Close()
	}()

	enc := ipc.NewEncoder(inW)
	if err := enc.Send(ipc.Message{Kind: ipc.KindEnqueue, PID: 500}); err != nil {
		t.Fatal(err)
	}

	dec := ipc.NewDecoder(outR)
	msg, err := dec.Next()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Kind != ipc.KindAdmit || msg.PID != 500 {
		t.Errorf("first event = %+v, want admit 500", msg)
	}

	// EOF on the inbox ends the process; the counters come last.
	inW.Close()
	var final *model.LoopStats
	for {
		msg, err := dec.Next()
		if err != nil {
			break
		}
		if msg.Kind == ipc.KindStats {
			final = msg.Stats
		}
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("RunProcess = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunProcess did not return after inbox EOF")
	}
	if final == nil || final.Admissions < 1 || final.Cycles < 1 {
		t.Errorf("final stats = %+v, want at least one admission", final)
	}
}

func TestRemote_RoundTrip(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	admitted := make(chan struct{}, 1)
	onEvent := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		if ev.Kind == model.DispatchAdmit {
			select {
			case admitted <- struct{}{}:
			default:
			}
		}
	}

	remote, err := StartRemote(RemoteConfig{
		Path:        os.Args[0],
		Args:        []string{"-test.run=^$"},
		Env:         append(os.Environ(), loopProcessEnv+"=1"),
		Stderr:      io.Discard,
		StopTimeout: 2 * time.Second,
	}, onEvent, logging.Discard())
	if err != nil {
		t.Fatalf("StartRemote: %v", err)
	}

	if err := remote.Enqueue(4242); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-admitted:
	case <-time.After(5 * time.Second):
		t.Fatal("no admit event from loop process")
	}

	if err := remote.Exited(4242); err != nil {
		t.Fatalf("Exited: %v", err)
	}
	if err := remote.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-remote.Done():
	default:
		t.Error("Done not closed after Stop")
	}
	if err := remote.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if st := remote.Stats(); st.Admissions < 1 || st.PeakConcurrency != 1 {
		t.Errorf("Stats after Stop = %+v, want the loop process counters", st)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range events {
		if ev.PID != 4242 {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestRemote_EnqueueAfterStopFails(t *testing.T) {
	remote, err := StartRemote(RemoteConfig{
		Path:   os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env:    append(os.Environ(), loopProcessEnv+"=1"),
		Stderr: io.Discard,
	}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("StartRemote: %v", err)
	}
	if err := remote.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := remote.Enqueue(1); err == nil {
		t.Error("Enqueue after Stop should fail")
	} else if errors.Is(err, ipc.ErrMalformed) {
		t.Errorf("unexpected error kind: %v", err)
	}
}
