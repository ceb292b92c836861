package store

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/me/rrsched/pkg/model"
)

func testSQLiteStore(t *testing.T, dsn, sessionID string) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(dsn, sessionID, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		fn(t, testSQLiteStore(t, ":memory:", uuid.NewString()))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
}

func sampleJob(pid int, command string) *model.Job {
	submitted := time.Now().UTC().Truncate(time.Microsecond)
	return model.NewJob(pid, command, []string{command, "1"}, submitted)
}

func TestCreateAndFindJob(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		job := sampleJob(100, "sleep")
		if err := job.Transition(model.JobStateReady); err != nil {
			t.Fatal(err)
		}
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if job.Seq != 1 {
			t.Errorf("Seq = %d, want 1", job.Seq)
		}

		got, err := st.FindJob(ctx, 100)
		if err != nil {
			t.Fatalf("FindJob: %v", err)
		}
		if got == nil {
			t.Fatal("FindJob returned nil")
		}
		if got.Seq != 1 {
			t.Errorf("stored Seq = %d, want 1", got.Seq)
		}
		if got.PID != 100 || got.Command != "sleep" {
			t.Errorf("got pid=%d command=%q", got.PID, got.Command)
		}
		if len(got.Args) != 2 || got.Args[1] != "1" {
			t.Errorf("Args = %v", got.Args)
		}
		if got.State != model.JobStateReady {
			t.Errorf("State = %s, want READY", got.State)
		}
		if got.DurationMs != model.DurationUnset {
			t.Errorf("DurationMs = %d, want %d", got.DurationMs, model.DurationUnset)
		}
		if !got.SubmittedAt.Equal(job.SubmittedAt) {
			t.Errorf("SubmittedAt = %v, want %v", got.SubmittedAt, job.SubmittedAt)
		}
		if got.FirstRunAt != nil || got.FinishedAt != nil {
			t.Error("unset times should stay nil")
		}
	})
}

func TestFindJob_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		got, err := st.FindJob(context.Background(), 42)
		if err != nil {
			t.Fatalf("FindJob: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})
}

func TestListJobs_SubmissionOrder(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for i, cmd := range []string{"a", "b", "c"} {
			if err := st.CreateJob(ctx, sampleJob(200+i, cmd)); err != nil {
				t.Fatalf("CreateJob(%s): %v", cmd, err)
			}
		}
		jobs, err := st.ListJobs(ctx)
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) != 3 {
			t.Fatalf("len = %d, want 3", len(jobs))
		}
		for i, want := range []string{"a", "b", "c"} {
			if jobs[i].Command != want || jobs[i].Seq != i+1 {
				t.Errorf("jobs[%d] = seq %d %q, want seq %d %q", i, jobs[i].Seq, jobs[i].Command, i+1, want)
			}
		}
	})
}

func TestUpdateJob_Complete(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		job := sampleJob(300, "true")
		_ = job.Transition(model.JobStateReady)
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}

		if err := job.Admit(job.SubmittedAt.Add(5 * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
		job.Complete(job.SubmittedAt.Add(1500*time.Millisecond), model.ExitStatus{Code: 0})
		if err := st.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		got, err := st.FindJob(ctx, job.PID)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Completed || got.State != model.JobStateTerminated {
			t.Errorf("completed=%v state=%s", got.Completed, got.State)
		}
		if got.DurationMs != 1500 {
			t.Errorf("DurationMs = %d, want 1500", got.DurationMs)
		}
		if got.Admissions != 1 {
			t.Errorf("Admissions = %d, want 1", got.Admissions)
		}
		if got.WaitMs() != 5 {
			t.Errorf("WaitMs = %d, want 5", got.WaitMs())
		}
	})
}

func TestUpdateJob_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		job := sampleJob(1, "x")
		job.Seq = 99
		if err := st.UpdateJob(context.Background(), job); err == nil {
			t.Error("expected error for missing job")
		}
	})
}

func TestFindLiveJob(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		old := sampleJob(400, "first")
		if err := st.CreateJob(ctx, old); err != nil {
			t.Fatal(err)
		}
		old.Complete(time.Now(), model.ExitStatus{Code: 0})
		if err := st.UpdateJob(ctx, old); err != nil {
			t.Fatal(err)
		}

		// Same PID reused by a later submission.
		reused := sampleJob(400, "second")
		if err := st.CreateJob(ctx, reused); err != nil {
			t.Fatal(err)
		}

		got, err := st.FindLiveJob(ctx, 400)
		if err != nil {
			t.Fatalf("FindLiveJob: %v", err)
		}
		if got == nil || got.Command != "second" {
			t.Fatalf("FindLiveJob(400) = %+v, want the second submission", got)
		}

		// Once the reused PID completes too, FindLiveJob has nothing but
		// FindJob still returns the newest record.
		reused.Complete(time.Now(), model.ExitStatus{Code: 1})
		if err := st.UpdateJob(ctx, reused); err != nil {
			t.Fatal(err)
		}
		if live, _ := st.FindLiveJob(ctx, 400); live != nil {
			t.Errorf("FindLiveJob(400) after completion = %+v, want nil", live)
		}
		latest, err := st.FindJob(ctx, 400)
		if err != nil {
			t.Fatalf("FindJob: %v", err)
		}
		if latest == nil || latest.Command != "second" || !latest.Completed {
			t.Errorf("FindJob(400) = %+v, want the completed second submission", latest)
		}

		none, err := st.FindLiveJob(ctx, 999)
		if err != nil {
			t.Fatal(err)
		}
		if none != nil {
			t.Errorf("FindLiveJob(999) = %+v, want nil", none)
		}
	})
}

func TestStore_ReturnsCopies(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		job := sampleJob(500, "cat")
		if err := st.CreateJob(ctx, job); err != nil {
			t.Fatal(err)
		}
		job.Command = "mutated"
		job.Args[0] = "mutated"

		got, _ := st.FindJob(ctx, 500)
		if got.Command != "cat" || got.Args[0] != "cat" {
			t.Errorf("store shares state with caller: %+v", got)
		}
	})
}

func TestSQLiteStore_SessionsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	a := testSQLiteStore(t, path, "session-a")
	if err := a.CreateJob(ctx, sampleJob(1, "from-a")); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	b := testSQLiteStore(t, path, "session-b")
	job := sampleJob(2, "from-b")
	if err := b.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if job.Seq != 1 {
		t.Errorf("Seq = %d, want 1 (numbering is per session)", job.Seq)
	}
	jobs, err := b.ListJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Command != "from-b" {
		t.Errorf("session b sees %d jobs", len(jobs))
	}
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	st := testSQLiteStore(t, ":memory:", "s")
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteStore_ExitSignalPersisted(t *testing.T) {
	st := testSQLiteStore(t, ":memory:", "s")
	ctx := context.Background()
	job := sampleJob(600, "sleep")
	if err := st.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	job.Complete(time.Now(), model.ExitStatus{Code: -1, Signal: "SIGKILL"})
	if err := st.UpdateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	got, _ := st.FindJob(ctx, job.PID)
	if got.Exit.Signal != "SIGKILL" || got.Exit.Code != -1 {
		t.Errorf("Exit = %+v", got.Exit)
	}
}
