// Package storage defines the persistence contract for synchronized task
// records and the cursor bookkeeping that goes with them.
//
// Backends live in subpackages:
//   - memory: in-process map, used by tests and throwaway servers
//   - sqlite: embedded SQLite (ncruces) or remote libSQL/Turso
//   - postgres: pgx connection pool
//
// The factory subpackage selects one from a DSN.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// Sentinel errors returned by every backend.
var (
	// ErrNotFound indicates that no record exists for the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrStaleWrite indicates that an upsert was refused because the stored
	// record has a newer updatedAt. This protects the last-write-wins
	// invariant when several processes share one database.
	ErrStaleWrite = errors.New("stale write: stored record is newer")

	// ErrUnavailable indicates the backend cannot be reached at all.
	ErrUnavailable = errors.New("storage unavailable")
)

// ListOptions configures ListSince.
type ListOptions struct {
	// Since returns records with updatedAt strictly after it (zero = all)
	Since time.Time
	// ExcludeSource drops records last written by this source (empty = keep all)
	ExcludeSource schema.Source
	// Limit caps the number of results (0 = no limit)
	Limit int
}

// SourceCount summarizes the records last written by one source.
type SourceCount struct {
	Source      schema.Source
	Total       int
	Completed   int
	LastUpdated time.Time
}

// ClearResult reports what an administrative clear removed.
type ClearResult struct {
	DeletedTasks   int
	DeletedCursors int
}

// Store holds at most one TaskRecord per id.
type Store interface {
	// Upsert inserts the record or replaces the stored one. Writing a record
	// whose updatedAt is older than the stored one returns ErrStaleWrite.
	// The stored createdAt is never overwritten.
	Upsert(ctx context.Context, rec *schema.TaskRecord) error

	// GetByID returns the stored record or ErrNotFound.
	GetByID(ctx context.Context, id string) (*schema.TaskRecord, error)

	// ListSince returns records ordered by updatedAt descending, then id.
	ListSince(ctx context.Context, opts ListOptions) ([]*schema.TaskRecord, error)
}

// CursorStore persists one SyncCursor per source.
type CursorStore interface {
	// TouchCursor creates the cursor for source or advances it to at,
	// incrementing its sync count. The read-modify-write is atomic.
	TouchCursor(ctx context.Context, source schema.Source, at time.Time) (*schema.SyncCursor, error)

	// ListCursors returns every cursor, or only the one for source when it
	// is non-empty.
	ListCursors(ctx context.Context, source schema.Source) ([]*schema.SyncCursor, error)
}

// Admin provides maintenance operations.
type Admin interface {
	// Clear removes records and the cursor for source, or all data when
	// source is empty.
	Clear(ctx context.Context, source schema.Source) (*ClearResult, error)

	// CountBySource returns per-source record counts ordered by source.
	CountBySource(ctx context.Context) ([]SourceCount, error)
}

// Backend is a complete storage implementation.
type Backend interface {
	Store
	CursorStore
	Admin

	// Ping verifies that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
