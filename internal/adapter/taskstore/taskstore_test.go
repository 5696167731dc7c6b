package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkie/internal/domain"
)

func sampleTask() domain.PendingTask {
	return domain.PendingTask{
		ID:        "01HTASK",
		UserID:    "u1",
		Action:    "send_email",
		Label:     "Send email to bob@example.com",
		Payload:   json.RawMessage(`{"to":"bob@example.com"}`),
		Status:    domain.TaskPending,
		Executor:  "gmail",
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	id, err := s.Create(ctx, sampleTask())
	require.NoError(t, err)
	assert.Equal(t, "01HTASK", id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "send_email", got.Action)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Equal(t, "gmail", got.Executor)
	assert.JSONEq(t, `{"to":"bob@example.com"}`, string(got.Payload))
	assert.True(t, got.CreatedAt.Equal(sampleTask().CreatedAt))
}

func TestSQLiteCreateIsIdempotent(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	_, err := s.Create(ctx, sampleTask())
	require.NoError(t, err)

	again := sampleTask()
	again.Label = "changed"
	id, err := s.Create(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, "01HTASK", id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Send email to bob@example.com", got.Label)
}

func TestSQLiteDefaults(t *testing.T) {
	s := newSQLite(t)
	task := sampleTask()
	task.ID = ""
	task.Status = ""
	task.Payload = nil

	id, err := s.Create(context.Background(), task)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, got.Status)
	assert.Equal(t, "{}", string(got.Payload))
}

func TestSQLiteGetMissing(t *testing.T) {
	_, err := newSQLite(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	s := newSQLite(t)
	task := sampleTask()
	task.Executor = ""
	_, err := s.Create(context.Background(), task)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	task = sampleTask()
	task.Payload = json.RawMessage(`{broken`)
	_, err = s.Create(context.Background(), task)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

type fakeExec struct {
	sql  []string
	args [][]any
	err  error
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func TestPostgresCreate(t *testing.T) {
	db := &fakeExec{}
	s := &PostgresStore{db: db}

	id, err := s.Create(context.Background(), sampleTask())
	require.NoError(t, err)
	assert.Equal(t, "01HTASK", id)
	require.Len(t, db.sql, 1)
	assert.True(t, strings.Contains(db.sql[0], "ON CONFLICT (id) DO NOTHING"))
	assert.Equal(t, "01HTASK", db.args[0][0])
	assert.Equal(t, "pending", db.args[0][5])
	assert.Equal(t, "gmail", db.args[0][6])
}

func TestPostgresCreateError(t *testing.T) {
	s := &PostgresStore{db: &fakeExec{err: errors.New("connection reset")}}
	_, err := s.Create(context.Background(), sampleTask())
	assert.ErrorIs(t, err, domain.ErrTaskStore)
}

func TestPostgresMigrate(t *testing.T) {
	db := &fakeExec{}
	s := &PostgresStore{db: db}
	require.NoError(t, s.migrate(context.Background()))
	assert.Contains(t, db.sql[0], "CREATE TABLE IF NOT EXISTS pending_tasks")

	s = &PostgresStore{db: &fakeExec{err: errors.New("denied")}}
	assert.ErrorIs(t, s.migrate(context.Background()), domain.ErrTaskStore)
}

func TestPostgresBadDSN(t *testing.T) {
	_, err := NewPostgresStore(context.Background(), "::not a dsn::")
	assert.ErrorIs(t, err, domain.ErrTaskStore)
}
