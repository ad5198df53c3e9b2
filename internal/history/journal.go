// Package history keeps an append-only SQLite journal of finished jobs.
// Nothing reads it back into the registry; it exists for operators.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mattjoyce/crewgate/internal/jobs"
)

// Entry is one journaled job.
type Entry struct {
	JobID        string     `json:"job_id"`
	Agent        string     `json:"agent"`
	Status       string     `json:"status"`
	Model        string     `json:"model,omitempty"`
	Prompt       string     `json:"prompt"`
	PromptDigest string     `json:"prompt_digest"`
	PID          *int       `json:"pid,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	Error        string     `json:"error,omitempty"`
	StdoutBytes  int        `json:"stdout_bytes"`
	StderrBytes  int        `json:"stderr_bytes"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	RecordedAt   time.Time  `json:"recorded_at"`
}

// Journal records finished jobs. It implements jobs.Recorder.
type Journal struct {
	db *sql.DB
}

var _ jobs.Recorder = (*Journal)(nil)

// Open opens (and creates if needed) the journal at path.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if err := checkLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_history (
  seq           INTEGER PRIMARY KEY AUTOINCREMENT,
  job_id        TEXT NOT NULL,
  agent         TEXT NOT NULL,
  status        TEXT NOT NULL,
  model         TEXT,
  prompt        TEXT NOT NULL,
  prompt_digest TEXT NOT NULL,
  pid           INTEGER,
  exit_code     INTEGER,
  error         TEXT,
  stdout_bytes  INTEGER NOT NULL,
  stderr_bytes  INTEGER NOT NULL,
  started_at    TEXT NOT NULL,
  completed_at  TEXT,
  recorded_at   TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS job_history_recorded_at_idx ON job_history(recorded_at);`,
		`CREATE INDEX IF NOT EXISTS job_history_agent_status_idx ON job_history(agent, status);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Record appends a finished job. Job ids restart with each service run, so
// rows are keyed by an autoincrement sequence rather than the id.
func (j *Journal) Record(ctx context.Context, info jobs.Info, stdoutBytes, stderrBytes int) error {
	var completed any
	if info.CompletedAt != nil {
		completed = info.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO job_history(job_id, agent, status, model, prompt, prompt_digest, pid, exit_code, error,
  stdout_bytes, stderr_bytes, started_at, completed_at, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		info.ID,
		info.Agent,
		string(info.Status),
		nullString(info.Model),
		info.Prompt,
		info.PromptDigest,
		nullInt(info.PID),
		nullInt(info.ExitCode),
		nullString(info.Error),
		stdoutBytes,
		stderrBytes,
		info.StartedAt.UTC().Format(time.RFC3339Nano),
		completed,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

// Query filters Recent.
type Query struct {
	Agent  string
	Status string
	Limit  int
}

// Recent returns the newest entries first.
func (j *Journal) Recent(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT job_id, agent, status, model, prompt, prompt_digest, pid, exit_code, error,
  stdout_bytes, stderr_bytes, started_at, completed_at, recorded_at
FROM job_history
WHERE (? = '' OR agent = ?) AND (? = '' OR status = ?)
ORDER BY seq DESC
LIMIT ?;`, q.Agent, q.Agent, q.Status, q.Status, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                         Entry
			model, errText, completed sql.NullString
			pid, exitCode             sql.NullInt64
			startedAt, recordedAt     string
		)
		if err := rows.Scan(&e.JobID, &e.Agent, &e.Status, &model, &e.Prompt, &e.PromptDigest, &pid, &exitCode, &errText,
			&e.StdoutBytes, &e.StderrBytes, &startedAt, &completed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan job history: %w", err)
		}
		e.Model = model.String
		e.Error = errText.String
		if pid.Valid {
			v := int(pid.Int64)
			e.PID = &v
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			e.ExitCode = &v
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if completed.Valid {
			t, err := time.Parse(time.RFC3339Nano, completed.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			e.CompletedAt = &t
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
