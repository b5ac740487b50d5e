package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Registry records when each source last pushed and how often.
type Registry struct {
	store storage.CursorStore
	now   func() time.Time
}

// NewRegistry creates a Registry over store. clock may be nil to use
// time.Now.
func NewRegistry(store storage.CursorStore, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{store: store, now: clock}
}

// Touch sets the source's lastSyncAt to now and increments its sync count,
// creating the cursor on first use.
func (r *Registry) Touch(ctx context.Context, source schema.Source) (*schema.SyncCursor, error) {
	cursor, err := r.store.TouchCursor(ctx, source, schema.NormalizeTime(r.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to touch cursor for %s: %w", source, err)
	}
	return cursor, nil
}

// List returns all cursors, or only source's when it is non-empty.
func (r *Registry) List(ctx context.Context, source schema.Source) ([]*schema.SyncCursor, error) {
	cursors, err := r.store.ListCursors(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cursors, nil
}
