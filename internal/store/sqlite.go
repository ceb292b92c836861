package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/rrsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Every record carries the
// session ID so a file-backed database can hold several sessions; a session
// only ever sees its own records.
type SQLiteStore struct {
	db        *sql.DB
	sessionID string
	logger    *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database that disappears with the process.
func NewSQLiteStore(dbPath, sessionID string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// One connection: ":memory:" databases are per-connection, and the
	// launcher, reaper and loop-event reader must see a single serialized view.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:        db,
		sessionID: sessionID,
		logger:    logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and registers the session.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	if err := migrate(ctx, s.db); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
		s.sessionID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "pid", job.PID)

	argsJSON, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM jobs WHERE session_id = ?`, s.sessionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (session_id, seq, pid, command, args, state, submitted_at,
		 first_run_at, finished_at, duration_ms, completed, exit_code, exit_signal, admissions, preemptions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.sessionID, seq, job.PID, job.Command, string(argsJSON), string(job.State),
		formatTime(job.SubmittedAt), formatTimePtr(job.FirstRunAt), formatTimePtr(job.FinishedAt),
		job.DurationMs, job.Completed, job.Exit.Code, job.Exit.Signal,
		job.Admissions, job.Preemptions,
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	job.Seq = seq
	return nil
}

func (s *SQLiteStore) FindJob(ctx context.Context, pid int) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "pid", pid)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE session_id = ? AND pid = ?
		 ORDER BY seq DESC LIMIT 1`, s.sessionID, pid)
	return s.scanJob(row)
}

func (s *SQLiteStore) FindLiveJob(ctx context.Context, pid int) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select_live", "table", "jobs", "pid", pid)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE session_id = ? AND pid = ? AND completed = 0
		 ORDER BY seq DESC LIMIT 1`, s.sessionID, pid)
	return s.scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]*model.Job, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs")

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE session_id = ? ORDER BY seq`, s.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "update", "table", "jobs", "seq", job.Seq, "pid", job.PID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state=?, first_run_at=?, finished_at=?, duration_ms=?, completed=?,
		 exit_code=?, exit_signal=?, admissions=?, preemptions=?
		 WHERE session_id=? AND seq=?`,
		string(job.State), formatTimePtr(job.FirstRunAt), formatTimePtr(job.FinishedAt),
		job.DurationMs, job.Completed, job.Exit.Code, job.Exit.Signal,
		job.Admissions, job.Preemptions,
		s.sessionID, job.Seq,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job %d not found", job.Seq)
	}
	return nil
}

// --- scan helpers ---

const jobColumns = `seq, pid, command, args, state, submitted_at, first_run_at, finished_at,
	duration_ms, completed, exit_code, exit_signal, admissions, preemptions`

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanJob(row scanner) (*model.Job, error) {
	var job model.Job
	var argsJSON, state, submittedAt string
	var firstRunAt, finishedAt *string

	err := row.Scan(
		&job.Seq, &job.PID, &job.Command, &argsJSON, &state,
		&submittedAt, &firstRunAt, &finishedAt,
		&job.DurationMs, &job.Completed, &job.Exit.Code, &job.Exit.Signal,
		&job.Admissions, &job.Preemptions,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(argsJSON), &job.Args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	job.State = model.JobState(state)
	job.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
	job.FirstRunAt = parseTimePtr(firstRunAt)
	job.FinishedAt = parseTimePtr(finishedAt)
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
