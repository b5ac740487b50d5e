// Package memory implements storage.Backend in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Store keeps records and cursors in maps guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]*schema.TaskRecord
	cursors map[schema.Source]*schema.SyncCursor
	closed  bool
}

var _ storage.Backend = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[string]*schema.TaskRecord),
		cursors: make(map[schema.Source]*schema.SyncCursor),
	}
}

// Ping reports ErrUnavailable once the store is closed.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store closed: %w", storage.ErrUnavailable)
	}
	return ctx.Err()
}

// Close marks the store closed. Data is kept so tests can inspect it.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Upsert implements storage.Store.
func (s *Store) Upsert(ctx context.Context, rec *schema.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("cannot upsert record without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	stored.SyncStatus = ""

	if existing, ok := s.records[rec.ID]; ok {
		if rec.UpdatedAt.Before(existing.UpdatedAt) {
			return fmt.Errorf("upsert %s: %w", rec.ID, storage.ErrStaleWrite)
		}
		stored.CreatedAt = existing.CreatedAt
	}

	s.records[rec.ID] = stored
	return nil
}

// GetByID implements storage.Store.
func (s *Store) GetByID(ctx context.Context, id string) (*schema.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

// ListSince implements storage.Store.
func (s *Store) ListSince(ctx context.Context, opts storage.ListOptions) ([]*schema.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*schema.TaskRecord, 0, len(s.records))
	for _, rec := range s.records {
		if !opts.Since.IsZero() && !rec.UpdatedAt.After(opts.Since) {
			continue
		}
		if opts.ExcludeSource != "" && rec.Source == opts.ExcludeSource {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// TouchCursor implements storage.CursorStore.
func (s *Store) TouchCursor(ctx context.Context, source schema.Source, at time.Time) (*schema.SyncCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cursors[source]
	if !ok {
		c = &schema.SyncCursor{Source: source}
		s.cursors[source] = c
	}
	c.LastSyncAt = schema.NormalizeTime(at)
	c.SyncCount++

	cp := *c
	return &cp, nil
}

// ListCursors implements storage.CursorStore.
func (s *Store) ListCursors(ctx context.Context, source schema.Source) ([]*schema.SyncCursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.SyncCursor, 0, len(s.cursors))
	for src, c := range s.cursors {
		if source != "" && src != source {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// Clear implements storage.Admin.
func (s *Store) Clear(ctx context.Context, source schema.Source) (*storage.ClearResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &storage.ClearResult{}
	for id, rec := range s.records {
		if source == "" || rec.Source == source {
			delete(s.records, id)
			result.DeletedTasks++
		}
	}
	for src := range s.cursors {
		if source == "" || src == source {
			delete(s.cursors, src)
			result.DeletedCursors++
		}
	}
	return result, nil
}

// CountBySource implements storage.Admin.
func (s *Store) CountBySource(ctx context.Context) ([]storage.SourceCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	bySource := make(map[schema.Source]*storage.SourceCount)
	for _, rec := range s.records {
		c, ok := bySource[rec.Source]
		if !ok {
			c = &storage.SourceCount{Source: rec.Source}
			bySource[rec.Source] = c
		}
		c.Total++
		if rec.Status == schema.StatusCompleted {
			c.Completed++
		}
		if rec.UpdatedAt.After(c.LastUpdated) {
			c.LastUpdated = rec.UpdatedAt
		}
	}
	s.mu.RUnlock()

	out := make([]storage.SourceCount, 0, len(bySource))
	for _, c := range bySource {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}
