// Package sqlite provides the SQLite (embedded) and libSQL (Turso) storage
// backend for tasksync.
//
// Two drivers are supported behind one implementation:
//   - Embedded: a local database file opened with ncruces/go-sqlite3, WAL
//     journal for concurrent readers during writes
//   - Remote: a libsql:// URL (self-hosted sqld or Turso) opened with
//     tursodatabase/go-libsql
//
// Schema:
//   - tasks: one row per task id, timestamps as INTEGER unix milliseconds
//   - sync_cursors: one row per source
//
// Indexes cover the export query (updated_at DESC, id) and the per-source
// status counts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Store wraps a SQLite-compatible database connection.
type Store struct {
	conn   *sql.DB
	path   string
	remote bool
}

var _ storage.Backend = (*Store)(nil)

// Open creates or opens an embedded database at path and initializes the
// schema.
//
// The caller MUST call Close() when done so the WAL is checkpointed.
//
// Example:
//
//	store, err := sqlite.Open(".tasksync/tasksync.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext opens an embedded database with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return initialize(ctx, &Store{conn: conn, path: path})
}

// OpenRemote connects to a libSQL server, e.g.
// "libsql://tasks-myorg.turso.io?authToken=...".
func OpenRemote(ctx context.Context, rawURL string) (*Store, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid libsql url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid libsql url %q: missing host", redact(u))
	}

	conn, err := sql.Open("libsql", rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return initialize(ctx, &Store{conn: conn, path: redact(u), remote: true})
}

func initialize(ctx context.Context, s *Store) (*Store, error) {
	if err := s.conn.PingContext(ctx); err != nil {
		_ = s.conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w: %w", storage.ErrUnavailable, err)
	}
	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// redact drops credentials from a URL before it is logged or stored.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path, or the redacted URL for remote stores.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint for embedded databases.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if !s.remote {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Ping implements storage.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database closed: %w", storage.ErrUnavailable)
	}
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT 'medium',
			estimated_minutes REAL NOT NULL DEFAULT 0,
			actual_minutes REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			source TEXT PRIMARY KEY,
			last_sync_at INTEGER NOT NULL,
			sync_count INTEGER NOT NULL DEFAULT 0
		)`,
		// Export order
		`CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at DESC, id)`,
		// Echo suppression and status counts
		`CREATE INDEX IF NOT EXISTS idx_tasks_source ON tasks(source, updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

const taskColumns = `id, title, description, status, priority,
	estimated_minutes, actual_minutes, created_at, updated_at, source`

// Upsert implements storage.Store.
//
// The conflict clause only replaces a row whose updated_at is not newer than
// the incoming one; created_at is left untouched on update.
func (s *Store) Upsert(ctx context.Context, rec *schema.TaskRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("cannot upsert record without id")
	}

	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		status = excluded.status,
		priority = excluded.priority,
		estimated_minutes = excluded.estimated_minutes,
		actual_minutes = excluded.actual_minutes,
		updated_at = excluded.updated_at,
		source = excluded.source
	WHERE excluded.updated_at >= tasks.updated_at
	`

	res, err := s.conn.ExecContext(ctx, query,
		rec.ID,
		rec.Title,
		rec.Description,
		string(rec.Status),
		string(rec.Priority),
		rec.EstimatedMinutes,
		rec.ActualMinutes,
		toMillis(rec.CreatedAt),
		toMillis(rec.UpdatedAt),
		string(rec.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("upsert %s: %w", rec.ID, storage.ErrStaleWrite)
	}
	return nil
}

// GetByID implements storage.Store.
func (s *Store) GetByID(ctx context.Context, id string) (*schema.TaskRecord, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	rec, err := scanTask(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return rec, nil
}

// ListSince implements storage.Store.
func (s *Store) ListSince(ctx context.Context, opts storage.ListOptions) ([]*schema.TaskRecord, error) {
	var conditions []string
	var args []interface{}

	if !opts.Since.IsZero() {
		conditions = append(conditions, "updated_at > ?")
		args = append(args, toMillis(opts.Since))
	}
	if opts.ExcludeSource != "" {
		conditions = append(conditions, "source != ?")
		args = append(args, string(opts.ExcludeSource))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id ASC`

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// TouchCursor implements storage.CursorStore.
func (s *Store) TouchCursor(ctx context.Context, source schema.Source, at time.Time) (*schema.SyncCursor, error) {
	query := `
	INSERT INTO sync_cursors (source, last_sync_at, sync_count)
	VALUES (?, ?, 1)
	ON CONFLICT(source) DO UPDATE SET
		last_sync_at = excluded.last_sync_at,
		sync_count = sync_cursors.sync_count + 1
	RETURNING source, last_sync_at, sync_count
	`

	var c schema.SyncCursor
	var src string
	var lastSync int64
	err := s.conn.QueryRowContext(ctx, query, string(source), toMillis(at)).Scan(&src, &lastSync, &c.SyncCount)
	if err != nil {
		return nil, fmt.Errorf("failed to touch cursor for %s: %w", source, err)
	}
	c.Source = schema.Source(src)
	c.LastSyncAt = fromMillis(lastSync)
	return &c, nil
}

// ListCursors implements storage.CursorStore.
func (s *Store) ListCursors(ctx context.Context, source schema.Source) ([]*schema.SyncCursor, error) {
	query := `SELECT source, last_sync_at, sync_count FROM sync_cursors`
	var args []interface{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY source`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer rows.Close()

	cursors := []*schema.SyncCursor{}
	for rows.Next() {
		var c schema.SyncCursor
		var src string
		var lastSync int64
		if err := rows.Scan(&src, &lastSync, &c.SyncCount); err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		c.Source = schema.Source(src)
		c.LastSyncAt = fromMillis(lastSync)
		cursors = append(cursors, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cursors: %w", err)
	}
	return cursors, nil
}

// Clear implements storage.Admin.
func (s *Store) Clear(ctx context.Context, source schema.Source) (*storage.ClearResult, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	taskQuery, cursorQuery := `DELETE FROM tasks`, `DELETE FROM sync_cursors`
	var args []interface{}
	if source != "" {
		taskQuery += ` WHERE source = ?`
		cursorQuery += ` WHERE source = ?`
		args = append(args, string(source))
	}

	result := &storage.ClearResult{}

	res, err := tx.ExecContext(ctx, taskQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to clear tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	result.DeletedTasks = int(n)

	res, err = tx.ExecContext(ctx, cursorQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to clear cursors: %w", err)
	}
	n, _ = res.RowsAffected()
	result.DeletedCursors = int(n)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// CountBySource implements storage.Admin.
func (s *Store) CountBySource(ctx context.Context) ([]storage.SourceCount, error) {
	query := `
	SELECT source,
	       COUNT(*),
	       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
	       MAX(updated_at)
	FROM tasks
	GROUP BY source
	ORDER BY source
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := []storage.SourceCount{}
	for rows.Next() {
		var c storage.SourceCount
		var src string
		var lastUpdated int64
		if err := rows.Scan(&src, &c.Total, &c.Completed, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		c.Source = schema.Source(src)
		c.LastUpdated = fromMillis(lastUpdated)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*schema.TaskRecord, error) {
	var rec schema.TaskRecord
	var status, priority, source string
	var createdAt, updatedAt int64

	err := row.Scan(
		&rec.ID,
		&rec.Title,
		&rec.Description,
		&status,
		&priority,
		&rec.EstimatedMinutes,
		&rec.ActualMinutes,
		&createdAt,
		&updatedAt,
		&source,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = schema.Status(status)
	rec.Priority = schema.Priority(priority)
	rec.Source = schema.Source(source)
	rec.CreatedAt = fromMillis(createdAt)
	rec.UpdatedAt = fromMillis(updatedAt)
	return &rec, nil
}

// scanTasks is a helper function to scan multiple tasks from query results.
func scanTasks(rows *sql.Rows) ([]*schema.TaskRecord, error) {
	tasks := []*schema.TaskRecord{}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
