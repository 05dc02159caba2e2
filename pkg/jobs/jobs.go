// Package jobs is a durable background job queue on SQLite. Uploads and
// queries are enqueued, run asynchronously with bounded retries, and polled
// through a read model keyed by job id.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/harlee/ragpdf/internal/models"
)

// Job statuses. A job moves pending -> running -> completed or failed;
// a retryable failure moves it back to pending until attempts run out.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the job database under dir. WAL keeps the enqueue
// path from blocking on a running job's status updates.
func Open(dir string) (*Store, error) {
	dsn := filepath.Join(dir, "jobs.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			payload    TEXT,
			output     TEXT,
			error      TEXT NOT NULL DEFAULT '',
			attempts   INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status, created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Enqueue persists a new pending job and returns its id.
func (s *Store) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding job payload: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, kind, StatusPending, string(data), now, now)
	if err != nil {
		return "", fmt.Errorf("enqueueing %s job: %w", kind, err)
	}
	return id, nil
}

// Get returns the job by id, models.ErrNotFound when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, payload, output, error, attempts, created_at, updated_at
		FROM jobs WHERE id = ?`, id)

	var job Job
	var payload, output sql.NullString
	err := row.Scan(&job.ID, &job.Kind, &job.Status, &payload, &output,
		&job.Error, &job.Attempts, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: job %s", models.ErrNotFound, id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("reading job %s: %w", id, err)
	}

	if payload.Valid && payload.String != "" {
		job.Payload = json.RawMessage(payload.String)
	}
	if output.Valid && output.String != "" {
		job.Output = json.RawMessage(output.String)
	}
	return job, nil
}

// claim atomically moves the oldest pending job to running. Returns false
// when the queue is empty.
func (s *Store) claim(ctx context.Context) (Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, fmt.Errorf("claiming job: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, kind, payload, attempts FROM jobs
		WHERE status = ? ORDER BY created_at LIMIT 1`, StatusPending)

	var job Job
	var payload sql.NullString
	err = row.Scan(&job.ID, &job.Kind, &payload, &job.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("claiming job: %w", err)
	}
	if payload.Valid {
		job.Payload = json.RawMessage(payload.String)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ?`, StatusRunning, time.Now().UTC(), job.ID)
	if err != nil {
		return Job{}, false, fmt.Errorf("marking job %s running: %w", job.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, false, fmt.Errorf("claiming job: %w", err)
	}

	job.Status = StatusRunning
	job.Attempts++
	return job, true, nil
}

func (s *Store) complete(ctx context.Context, id string, output any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("encoding job output: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, output = ?, error = '', updated_at = ?
		WHERE id = ?`, StatusCompleted, string(data), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return nil
}

// fail records the error. When retry is true the job goes back to pending
// for another attempt.
func (s *Store) fail(ctx context.Context, id string, jobErr error, retry bool) error {
	status := StatusFailed
	if retry {
		status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`, status, jobErr.Error(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
