// Package taskstore persists pending tasks queued by the approval gate.
package taskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sparkie/internal/domain"
)

const insertSQLite = `INSERT INTO pending_tasks (id, user_id, action, label, payload, status, executor, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`

// SQLiteStore implements domain.PendingTaskStore on an embedded database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrTaskStore, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrTaskStore, err)
		}
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_tasks (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL DEFAULT '',
			action     TEXT NOT NULL,
			label      TEXT NOT NULL,
			payload    TEXT NOT NULL,
			status     TEXT NOT NULL,
			executor   TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS pending_tasks_user ON pending_tasks(user_id, status);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrTaskStore, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts the task. Re-creating an existing ID is a no-op that
// returns the same ID.
func (s *SQLiteStore) Create(ctx context.Context, task domain.PendingTask) (string, error) {
	task, err := normalizeTask(task)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, insertSQLite,
		task.ID, task.UserID, task.Action, task.Label, string(task.Payload),
		string(task.Status), task.Executor, task.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", domain.NewSubSystemError("taskstore", "SQLiteStore.Create", domain.ErrTaskStore, err.Error())
	}
	return task.ID, nil
}

// Get returns the stored task.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.PendingTask, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, action, label, payload, status, executor, created_at FROM pending_tasks WHERE id = ?", id)
	var (
		t                domain.PendingTask
		payload, created string
		status           string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Action, &t.Label, &payload, &status, &t.Executor, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.NewSubSystemError("taskstore", "SQLiteStore.Get", domain.ErrTaskStore, err.Error())
	}
	t.Payload = []byte(payload)
	t.Status = domain.TaskStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &t, nil
}

var _ domain.PendingTaskStore = (*SQLiteStore)(nil)
