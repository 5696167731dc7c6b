package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"sparkie/internal/domain"
	"sparkie/internal/infra/tracer"
)

const (
	defaultSimilarity = 0.85
	defaultMaxEntries = 20
	dedupeWindow      = 200

	// timeLayout is fixed width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteStore is the user memory backend: one row per remembered fact,
// with an FTS5 index for relevance lookup.
type SQLiteStore struct {
	db         *sql.DB
	threshold  float64
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
}

// Options tunes the store.
type Options struct {
	SimilarityThreshold float64 // saves at least this similar to an existing entry are skipped
	MaxEntries          int     // entries returned by Load
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrMemoryStore, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrMemoryStore, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrMemoryStore, err)
	}

	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = defaultSimilarity
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = defaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		db:         db,
		threshold:  opts.SimilarityThreshold,
		maxEntries: opts.MaxEntries,
		now:        time.Now,
		logger:     logger,
	}, nil
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS user_memories (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			category   TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS user_memories_user ON user_memories(user_id, created_at);

		CREATE VIRTUAL TABLE IF NOT EXISTS user_memories_fts USING fts5(
			content, content=user_memories, content_rowid=rowid
		);

		CREATE TRIGGER IF NOT EXISTS user_memories_ai AFTER INSERT ON user_memories BEGIN
			INSERT INTO user_memories_fts(rowid, content) VALUES (new.rowid, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS user_memories_ad AFTER DELETE ON user_memories BEGIN
			INSERT INTO user_memories_fts(user_memories_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		END;
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save implements domain.MemoryProvider. Content similar to one of the
// user's recent entries is not stored again.
func (s *SQLiteStore) Save(ctx context.Context, userID, category, content string) (bool, error) {
	ctx, span := tracer.StartSpan(ctx, "memory.save")
	defer span.End()

	content = strings.TrimSpace(content)
	if userID == "" || content == "" {
		return false, domain.NewSubSystemError("memory", "Memory.Save", domain.ErrInvalidInput, "user and content are required")
	}
	if category == "" {
		category = domain.DefaultMemoryCategory
	}

	recent, err := s.query(ctx,
		"SELECT id, user_id, category, content, created_at FROM user_memories WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, dedupeWindow)
	if err != nil {
		tracer.RecordError(span, err)
		return false, err
	}
	for _, e := range recent {
		if similarity(e.Content, content) >= s.threshold {
			span.SetAttributes(tracer.BoolAttr("memory.duplicate", true))
			tracer.SetOK(span)
			return false, nil
		}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO user_memories (id, user_id, category, content, created_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING",
		ulid.Make().String(), userID, category, content, s.now().UTC().Format(timeLayout))
	if err != nil {
		tracer.RecordError(span, err)
		return false, domain.NewSubSystemError("memory", "Memory.Save", domain.ErrMemoryStore, err.Error())
	}
	tracer.SetOK(span)
	return true, nil
}

// Load implements domain.MemoryProvider. Entries matching the hint come
// first, the rest is filled with the newest entries.
func (s *SQLiteStore) Load(ctx context.Context, userID, queryHint string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "memory.load")
	defer span.End()

	var matched []domain.MemoryEntry
	if q := ftsQuery(queryHint); q != "" {
		var err error
		matched, err = s.query(ctx, `
			SELECT m.id, m.user_id, m.category, m.content, m.created_at
			FROM user_memories_fts f JOIN user_memories m ON m.rowid = f.rowid
			WHERE user_memories_fts MATCH ? AND m.user_id = ?
			ORDER BY bm25(user_memories_fts) LIMIT ?`, q, userID, s.maxEntries)
		if err != nil {
			s.logger.DebugContext(ctx, "memory keyword search failed, using recent entries", "error", err)
			matched = nil
		}
	}

	entries := matched
	if len(entries) < s.maxEntries {
		recent, err := s.query(ctx,
			"SELECT id, user_id, category, content, created_at FROM user_memories WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
			userID, s.maxEntries)
		if err != nil {
			tracer.RecordError(span, err)
			return "", err
		}
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			seen[e.ID] = true
		}
		for _, e := range recent {
			if len(entries) >= s.maxEntries {
				break
			}
			if !seen[e.ID] {
				entries = append(entries, e)
			}
		}
	}
	span.SetAttributes(tracer.IntAttr("memory.entries", len(entries)))
	tracer.SetOK(span)
	return format(entries), nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]domain.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.NewSubSystemError("memory", "Memory.Query", domain.ErrMemoryStore, err.Error())
	}
	defer rows.Close()

	var out []domain.MemoryEntry
	for rows.Next() {
		var e domain.MemoryEntry
		var created string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Category, &e.Content, &created); err != nil {
			return nil, domain.NewSubSystemError("memory", "Memory.Query", domain.ErrMemoryStore, err.Error())
		}
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewSubSystemError("memory", "Memory.Query", domain.ErrMemoryStore, err.Error())
	}
	return out, nil
}

// format renders entries one per line as "- [category] content".
func format(entries []domain.MemoryEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- [%s] %s", e.Category, e.Content)
	}
	return sb.String()
}

var _ domain.MemoryProvider = (*SQLiteStore)(nil)
