package taskstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkie/internal/domain"
)

const (
	schemaPostgres = `CREATE TABLE IF NOT EXISTS pending_tasks (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		action     TEXT NOT NULL,
		label      TEXT NOT NULL,
		payload    JSONB NOT NULL,
		status     TEXT NOT NULL,
		executor   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`
	insertPostgres = `INSERT INTO pending_tasks (id, user_id, action, label, payload, status, executor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`
)

// execer is the subset of pgxpool.Pool the store uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements domain.PendingTaskStore on a shared database.
type PostgresStore struct {
	db    execer
	close func()
}

// NewPostgresStore connects to dsn and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", domain.ErrTaskStore, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrTaskStore, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrTaskStore, err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaPostgres); err != nil {
		return fmt.Errorf("%w: migrate: %v", domain.ErrTaskStore, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// Create inserts the task, ignoring an existing row with the same ID.
func (s *PostgresStore) Create(ctx context.Context, task domain.PendingTask) (string, error) {
	task, err := normalizeTask(task)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(ctx, insertPostgres,
		task.ID, task.UserID, task.Action, task.Label, []byte(task.Payload),
		string(task.Status), task.Executor, task.CreatedAt.UTC())
	if err != nil {
		return "", domain.NewSubSystemError("taskstore", "PostgresStore.Create", domain.ErrTaskStore, err.Error())
	}
	return task.ID, nil
}

var _ domain.PendingTaskStore = (*PostgresStore)(nil)
