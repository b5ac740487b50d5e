// Package postgres provides the Postgres-backed task record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

const (
	tasksTable   = "sync_tasks"
	cursorsTable = "sync_cursors"
)

// Store implements storage.Backend backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Backend = (*Store)(nil)

// Open connects to dsn, verifies the connection and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := New(pool)
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not touched.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables and indexes if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store not initialized")
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + tasksTable + ` (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'pending',
    priority          TEXT NOT NULL DEFAULT 'medium',
    estimated_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    actual_minutes    DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL,
    source            TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_tasks_updated ON ` + tasksTable + ` (updated_at DESC, id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_tasks_source ON ` + tasksTable + ` (source, updated_at)`,

		`CREATE TABLE IF NOT EXISTS ` + cursorsTable + ` (
    source       TEXT PRIMARY KEY,
    last_sync_at TIMESTAMPTZ NOT NULL,
    sync_count   BIGINT NOT NULL DEFAULT 0
)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure sync schema: %w", err)
		}
	}
	return nil
}

// Ping implements storage.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store not initialized: %w", storage.ErrUnavailable)
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// Close implements storage.Backend.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const selectColumns = `SELECT id, title, description, status, priority,
       estimated_minutes, actual_minutes, created_at, updated_at, source`

// Upsert implements storage.Store.
func (s *Store) Upsert(ctx context.Context, rec *schema.TaskRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("id required")
	}

	tag, err := s.pool.Exec(ctx, `
INSERT INTO `+tasksTable+` (
    id, title, description, status, priority,
    estimated_minutes, actual_minutes, created_at, updated_at, source
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    status = EXCLUDED.status,
    priority = EXCLUDED.priority,
    estimated_minutes = EXCLUDED.estimated_minutes,
    actual_minutes = EXCLUDED.actual_minutes,
    updated_at = EXCLUDED.updated_at,
    source = EXCLUDED.source
WHERE `+tasksTable+`.updated_at <= EXCLUDED.updated_at`,
		rec.ID,
		rec.Title,
		rec.Description,
		string(rec.Status),
		string(rec.Priority),
		rec.EstimatedMinutes,
		rec.ActualMinutes,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		string(rec.Source),
	)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert %s: %w", rec.ID, storage.ErrStaleWrite)
	}
	return nil
}

// GetByID implements storage.Store.
func (s *Store) GetByID(ctx context.Context, id string) (*schema.TaskRecord, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM `+tasksTable+` WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rec, nil
}

// ListSince implements storage.Store.
func (s *Store) ListSince(ctx context.Context, opts storage.ListOptions) ([]*schema.TaskRecord, error) {
	var conditions []string
	var args []any

	if !opts.Since.IsZero() {
		args = append(args, opts.Since.UTC())
		conditions = append(conditions, fmt.Sprintf("updated_at > $%d", len(args)))
	}
	if opts.ExcludeSource != "" {
		args = append(args, string(opts.ExcludeSource))
		conditions = append(conditions, fmt.Sprintf("source <> $%d", len(args)))
	}

	query := selectColumns + ` FROM ` + tasksTable
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	records := []*schema.TaskRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return records, nil
}

// TouchCursor implements storage.CursorStore.
func (s *Store) TouchCursor(ctx context.Context, source schema.Source, at time.Time) (*schema.SyncCursor, error) {
	var c schema.SyncCursor
	var src string
	err := s.pool.QueryRow(ctx, `
INSERT INTO `+cursorsTable+` (source, last_sync_at, sync_count)
VALUES ($1, $2, 1)
ON CONFLICT (source) DO UPDATE SET
    last_sync_at = EXCLUDED.last_sync_at,
    sync_count = `+cursorsTable+`.sync_count + 1
RETURNING source, last_sync_at, sync_count`,
		string(source), at.UTC(),
	).Scan(&src, &c.LastSyncAt, &c.SyncCount)
	if err != nil {
		return nil, fmt.Errorf("touch cursor %s: %w", source, err)
	}
	c.Source = schema.Source(src)
	c.LastSyncAt = c.LastSyncAt.UTC()
	return &c, nil
}

// ListCursors implements storage.CursorStore.
func (s *Store) ListCursors(ctx context.Context, source schema.Source) ([]*schema.SyncCursor, error) {
	query := `SELECT source, last_sync_at, sync_count FROM ` + cursorsTable
	var args []any
	if source != "" {
		query += ` WHERE source = $1`
		args = append(args, string(source))
	}
	query += ` ORDER BY source`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	cursors := []*schema.SyncCursor{}
	for rows.Next() {
		var c schema.SyncCursor
		var src string
		if err := rows.Scan(&src, &c.LastSyncAt, &c.SyncCount); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		c.Source = schema.Source(src)
		c.LastSyncAt = c.LastSyncAt.UTC()
		cursors = append(cursors, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return cursors, nil
}

// Clear implements storage.Admin.
func (s *Store) Clear(ctx context.Context, source schema.Source) (*storage.ClearResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	taskQuery, cursorQuery := `DELETE FROM `+tasksTable, `DELETE FROM `+cursorsTable
	var args []any
	if source != "" {
		taskQuery += ` WHERE source = $1`
		cursorQuery += ` WHERE source = $1`
		args = append(args, string(source))
	}

	tasksTag, err := tx.Exec(ctx, taskQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("clear tasks: %w", err)
	}
	cursorsTag, err := tx.Exec(ctx, cursorQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("clear cursors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit clear: %w", err)
	}

	return &storage.ClearResult{
		DeletedTasks:   int(tasksTag.RowsAffected()),
		DeletedCursors: int(cursorsTag.RowsAffected()),
	}, nil
}

// CountBySource implements storage.Admin.
func (s *Store) CountBySource(ctx context.Context) ([]storage.SourceCount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT source,
       COUNT(*),
       COUNT(*) FILTER (WHERE status = 'completed'),
       MAX(updated_at)
FROM `+tasksTable+`
GROUP BY source
ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := []storage.SourceCount{}
	for rows.Next() {
		var c storage.SourceCount
		var src string
		var total, completed int64
		if err := rows.Scan(&src, &total, &completed, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		c.Source = schema.Source(src)
		c.Total = int(total)
		c.Completed = int(completed)
		c.LastUpdated = c.LastUpdated.UTC()
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*schema.TaskRecord, error) {
	var rec schema.TaskRecord
	var status, priority, source string

	err := row.Scan(
		&rec.ID,
		&rec.Title,
		&rec.Description,
		&status,
		&priority,
		&rec.EstimatedMinutes,
		&rec.ActualMinutes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&source,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = schema.Status(status)
	rec.Priority = schema.Priority(priority)
	rec.Source = schema.Source(source)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
