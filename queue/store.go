package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	task_type     TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 10,
	payload       TEXT NOT NULL DEFAULT '',
	result        TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	created_at    DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_subject ON tasks(subject_id);
CREATE INDEX IF NOT EXISTS idx_tasks_type_status ON tasks(task_type, status);
`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// ensures the tasks table exists. The caller is responsible for Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task, assigning its ID, defaults, and CreatedAt.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	t.ID = uuid.NewString()
	t.Status = StatusPending
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = DefaultMaxAttempts
	}
	t.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(`
		INSERT INTO tasks
			(id, task_type, subject_id, status, priority, payload, result,
			 error_message, attempts, max_attempts, created_at, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Type, t.SubjectID, string(t.Status), t.Priority,
		string(t.Payload), string(t.Result), t.ErrorMessage,
		t.Attempts, t.MaxAttempts, t.CreatedAt,
		nullTime(t.StartedAt), nullTime(t.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT * FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// NextPending returns up to limit dispatchable tasks in drain order:
// priority ascending, creation time ascending within equal priority.
func (s *SQLiteStore) NextPending(limit int) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT * FROM tasks
		WHERE status = ? AND attempts < max_attempts
		ORDER BY priority ASC, created_at ASC
		LIMIT ?`, string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Claim atomically moves a pending task to processing, incrementing its
// attempt counter and stamping started_at. Returns false when the task
// was no longer claimable, which means another drain got there first.
func (s *SQLiteStore) Claim(id string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE tasks
		SET status = ?, attempts = attempts + 1, started_at = ?
		WHERE id = ? AND status = ? AND attempts < max_attempts`,
		string(StatusProcessing), time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkCompleted records a successful execution.
func (s *SQLiteStore) MarkCompleted(id string, result json.RawMessage) error {
	return s.finish(id, StatusCompleted, string(result), "")
}

// MarkFailed records a terminal failure.
func (s *SQLiteStore) MarkFailed(id, errMsg string) error {
	return s.finish(id, StatusFailed, "", errMsg)
}

func (s *SQLiteStore) finish(id string, status Status, result, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, result = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(status), result, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return requireRow(res)
}

// ReleaseForRetry reverts a processing task to pending, recording the
// failure reason for visibility. The task stays eligible for the next
// drain as long as its attempt budget holds.
func (s *SQLiteStore) ReleaseForRetry(id, errMsg string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, error_message = ? WHERE id = ?`,
		string(StatusPending), errMsg, id)
	if err != nil {
		return fmt.Errorf("release task: %w", err)
	}
	return requireRow(res)
}

// CountByStatus returns the number of tasks per status.
func (s *SQLiteStore) CountByStatus() (map[Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := map[Status]int{
		StatusPending: 0, StatusProcessing: 0, StatusCompleted: 0, StatusFailed: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// PendingCount returns how many tasks are still dispatchable.
func (s *SQLiteStore) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE status = ? AND attempts < max_attempts`,
		string(StatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// List returns up to limit tasks in a status, newest first. Used by the
// admin surfaces to inspect failures.
func (s *SQLiteStore) List(status Status, limit int) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT * FROM tasks WHERE status = ?
		ORDER BY created_at DESC LIMIT ?`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// DeleteOlderThan removes completed and failed tasks finished before the
// cutoff, returning how many were deleted.
func (s *SQLiteStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM tasks
		WHERE status IN (?, ?) AND completed_at < ?`,
		string(StatusCompleted), string(StatusFailed), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseStuck reverts processing tasks whose attempt started before the
// cutoff back to pending. Covers tasks orphaned by a killed process.
func (s *SQLiteStore) ReleaseStuck(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, error_message = ?
		WHERE status = ? AND started_at < ?`,
		string(StatusPending), "released after stall",
		string(StatusProcessing), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("release stuck tasks: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, payload, result string
	var startedAt, completedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.Type, &t.SubjectID, &status, &t.Priority,
		&payload, &result, &t.ErrorMessage,
		&t.Attempts, &t.MaxAttempts,
		&t.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if payload != "" {
		t.Payload = json.RawMessage(payload)
	}
	if result != "" {
		t.Result = json.RawMessage(result)
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
