package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/copilot-bridge/internal/domain"
	"github.com/ashureev/copilot-bridge/internal/shared"
	_ "modernc.org/sqlite"
)

// DefaultListLimit caps ListThreads when the caller passes no limit.
const DefaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		owner_id TEXT NOT NULL DEFAULT '',
		node_name TEXT NOT NULL DEFAULT '',
		state_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const threadColumns = `thread_id, agent_name, owner_id, node_name, state_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*domain.Thread, error) {
	var t domain.Thread
	var stateJSON sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(&t.ThreadID, &t.AgentName, &t.OwnerID, &t.NodeName, &stateJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.StateJSON = stateJSON.String
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	return &t, nil
}

// GetThread retrieves a thread by id.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE thread_id = ?`, threadID)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread row: %w", err)
	}
	return t, nil
}

// UpsertThread creates or updates a thread record, retrying on SQLITE_BUSY.
func (s *SQLiteStore) UpsertThread(ctx context.Context, thread *domain.Thread) error {
	if thread == nil || thread.ThreadID == "" {
		return errors.New("upsert thread: thread id is required")
	}
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = now
	}

	query := `
	INSERT INTO threads (` + threadColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(thread_id) DO UPDATE SET
		agent_name = excluded.agent_name,
		owner_id = CASE WHEN threads.owner_id = '' THEN excluded.owner_id ELSE threads.owner_id END,
		node_name = CASE WHEN excluded.node_name = '' THEN threads.node_name ELSE excluded.node_name END,
		state_json = COALESCE(excluded.state_json, threads.state_json),
		updated_at = excluded.updated_at`

	var stateJSON any
	if thread.HasState() {
		stateJSON = thread.StateJSON
	}

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert thread", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, query,
			thread.ThreadID, thread.AgentName, thread.OwnerID, thread.NodeName,
			stateJSON, thread.CreatedAt.Unix(), thread.UpdatedAt.Unix(),
		)
		return err
	})
}

// ListThreads returns an owner's threads, newest first.
func (s *SQLiteStore) ListThreads(ctx context.Context, ownerID string, limit int) ([]*domain.Thread, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE owner_id = ? ORDER BY updated_at DESC, thread_id LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", err)
	}
	return collectThreads(rows)
}

// DeleteThread removes a thread record, retrying on SQLITE_BUSY.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "delete thread", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
		return err
	})
}

// GetExpiredThreads returns threads whose last update is older than ttl.
func (s *SQLiteStore) GetExpiredThreads(ctx context.Context, ttl time.Duration) ([]*domain.Thread, error) {
	threshold := time.Now().Add(-ttl).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE updated_at < ?`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired threads: %w", err)
	}
	return collectThreads(rows)
}

func collectThreads(rows *sql.Rows) ([]*domain.Thread, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close thread rows", "error", closeErr)
		}
	}()

	var threads []*domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return threads, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
