package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for the job store.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		started_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id   TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		pid          INTEGER NOT NULL,
		command      TEXT NOT NULL,
		args         TEXT NOT NULL DEFAULT '[]',
		state        TEXT NOT NULL DEFAULT 'CREATED',
		submitted_at TEXT NOT NULL,
		first_run_at TEXT,
		finished_at  TEXT,
		duration_ms  INTEGER NOT NULL DEFAULT -1,
		completed    INTEGER NOT NULL DEFAULT 0,
		exit_code    INTEGER NOT NULL DEFAULT 0,
		exit_signal  TEXT NOT NULL DEFAULT '',
		UNIQUE (session_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_session_pid ON jobs(session_id, pid, completed)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
}{
	{
		table:    "jobs",
		column:   "admissions",
		alterSQL: "ALTER TABLE jobs ADD COLUMN admissions INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "jobs",
		column:   "preemptions",
		alterSQL: "ALTER TABLE jobs ADD COLUMN preemptions INTEGER NOT NULL DEFAULT 0",
	},
}

// migrate executes all schema DDL statements and alter migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}

	exists := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			exists = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	// Close before ALTER: the store runs on a single connection.
	if err := rows.Close(); err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
