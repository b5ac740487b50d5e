// Package storagetest provides a conformance suite that every
// storage.Backend implementation must pass.
//
// Usage from a backend package:
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T) storage.Backend {
//	        return setupTestStore(t)
//	    })
//	}
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Factory returns a fresh, empty backend. It should register its own cleanup.
type Factory func(t *testing.T) storage.Backend

// Base is the reference instant used by the suite's records.
var Base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Record builds a valid record updated offset after Base.
func Record(id string, source schema.Source, offset time.Duration) *schema.TaskRecord {
	at := Base.Add(offset)
	return &schema.TaskRecord{
		ID:        id,
		Title:     "Task " + id,
		Status:    schema.StatusPending,
		Priority:  schema.PriorityMedium,
		CreatedAt: at,
		UpdatedAt: at,
		Source:    source,
	}
}

// Run executes the full suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"PingHealthy", testPing},
		{"UpsertAndGet", testUpsertAndGet},
		{"GetMissing", testGetMissing},
		{"UpsertIdempotent", testUpsertIdempotent},
		{"UpsertNewerReplaces", testUpsertNewerReplaces},
		{"UpsertStaleRejected", testUpsertStaleRejected},
		{"CreatedAtPreserved", testCreatedAtPreserved},
		{"ListSinceOrder", testListSinceOrder},
		{"ListSinceFilter", testListSinceFilter},
		{"ListSinceExcludeSource", testListSinceExclude},
		{"ListSinceLimit", testListSinceLimit},
		{"TouchCursor", testTouchCursor},
		{"ListCursorsFilter", testListCursorsFilter},
		{"ClearSource", testClearSource},
		{"ClearAll", testClearAll},
		{"CountBySource", testCountBySource},
		{"ConcurrentUpserts", testConcurrentUpserts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

func mustUpsert(t *testing.T, b storage.Backend, rec *schema.TaskRecord) {
	t.Helper()
	if err := b.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert(%s) failed: %v", rec.ID, err)
	}
}

func ids(records []*schema.TaskRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testPing(t *testing.T, b storage.Backend) {
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}

func testUpsertAndGet(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	rec := Record("T1", schema.SourceVault, 0)
	rec.Description = "with details"
	rec.Priority = schema.PriorityUrgent
	rec.EstimatedMinutes = 30
	rec.ActualMinutes = 12.5

	mustUpsert(t, b, rec)

	got, err := b.GetByID(ctx, "T1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.SameContent(rec) {
		t.Errorf("stored record differs:\n got  %+v\n want %+v", got, rec)
	}
}

func testGetMissing(t *testing.T, b storage.Backend) {
	_, err := b.GetByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testUpsertIdempotent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	rec := Record("T1", schema.SourceVault, 0)

	mustUpsert(t, b, rec)
	mustUpsert(t, b, rec)

	all, err := b.ListSince(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 record after duplicate upsert, got %d", len(all))
	}
	if !all[0].SameContent(rec) {
		t.Errorf("record changed by duplicate upsert: %+v", all[0])
	}
}

func testUpsertNewerReplaces(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustUpsert(t, b, Record("T1", schema.SourceVault, 0))

	newer := Record("T1", schema.SourceExtension, time.Minute)
	newer.Title = "renamed"
	newer.Status = schema.StatusCompleted
	mustUpsert(t, b, newer)

	got, err := b.GetByID(ctx, "T1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Title != "renamed" || got.Source != schema.SourceExtension || got.Status != schema.StatusCompleted {
		t.Errorf("newer write not applied: %+v", got)
	}
	if !got.UpdatedAt.Equal(newer.UpdatedAt) {
		t.Errorf("expected updatedAt %v, got %v", newer.UpdatedAt, got.UpdatedAt)
	}
}

func testUpsertStaleRejected(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	current := Record("T1", schema.SourceVault, time.Hour)
	mustUpsert(t, b, current)

	stale := Record("T1", schema.SourceExtension, 0)
	stale.Title = "stale"
	err := b.Upsert(ctx, stale)
	if !errors.Is(err, storage.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}

	got, err := b.GetByID(ctx, "T1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.SameContent(current) {
		t.Errorf("stale write modified record: %+v", got)
	}
}

func testCreatedAtPreserved(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	first := Record("T1", schema.SourceVault, 0)
	mustUpsert(t, b, first)

	update := Record("T1", schema.SourceVault, time.Hour)
	update.CreatedAt = Base.Add(30 * time.Minute)
	mustUpsert(t, b, update)

	got, err := b.GetByID(ctx, "T1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt overwritten: got %v, want %v", got.CreatedAt, first.CreatedAt)
	}
}

func testListSinceOrder(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustUpsert(t, b, Record("B", schema.SourceVault, time.Minute))
	mustUpsert(t, b, Record("C", schema.SourceVault, 3*time.Minute))
	mustUpsert(t, b, Record("A", schema.SourceVault, time.Minute))
	mustUpsert(t, b, Record("D", schema.SourceVault, 2*time.Minute))

	got, err := b.ListSince(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}

	// Newest first, ties broken by id.
	want := []string{"C", "D", "A", "B"}
	if !equalIDs(ids(got), want) {
		t.Errorf("expected order %v, got %v", want, ids(got))
	}
}

func testListSinceFilter(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustUpsert(t, b, Record("old", schema.SourceVault, 0))
	mustUpsert(t, b, Record("edge", schema.SourceVault, time.Hour))
	mustUpsert(t, b, Record("new", schema.SourceVault, 2*time.Hour))

	got, err := b.ListSince(ctx, storage.ListOptions{Since: Base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}

	// Since is exclusive.
	if !equalIDs(ids(got), []string{"new"}) {
		t.Errorf("expected [new], got %v", ids(got))
	}
}

func testListSinceExclude(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustUpsert(t, b, Record("V1", schema.SourceVault, 0))
	mustUpsert(t, b, Record("E1", schema.SourceExtension, time.Minute))
	mustUpsert(t, b, Record("S1", schema.SourceServer, 2*time.Minute))

	got, err := b.ListSince(ctx, storage.ListOptions{ExcludeSource: schema.SourceVault})
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if !equalIDs(ids(got), []string{"S1", "E1"}) {
		t.Errorf("expected [S1 E1], got %v", ids(got))
	}
}

func testListSinceLimit(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		mustUpsert(t, b, Record(fmt.Sprintf("T%02d", i), schema.SourceVault, time.Duration(i)*time.Second))
	}

	got, err := b.ListSince(ctx, storage.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("ListSince failed: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 records, got %d", len(got))
	}
	if got[0].ID != "T14" || got[9].ID != "T05" {
		t.Errorf("expected the 10 newest records, got %v", ids(got))
	}
}

func testTouchCursor(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	c, err := b.TouchCursor(ctx, schema.SourceVault, Base)
	if err != nil {
		t.Fatalf("TouchCursor failed: %v", err)
	}
	if c.SyncCount != 1 || !c.LastSyncAt.Equal(Base) {
		t.Errorf("unexpected first cursor: %+v", c)
	}

	later := Base.Add(time.Minute)
	c, err = b.TouchCursor(ctx, schema.SourceVault, later)
	if err != nil {
		t.Fatalf("TouchCursor failed: %v", err)
	}
	if c.SyncCount != 2 || !c.LastSyncAt.Equal(later) {
		t.Errorf("unexpected second cursor: %+v", c)
	}

	cursors, err := b.ListCursors(ctx, "")
	if err != nil {
		t.Fatalf("ListCursors failed: %v", err)
	}
	if len(cursors) != 1 || cursors[0].SyncCount != 2 {
		t.Errorf("unexpected cursors: %+v", cursors)
	}
}

func testListCursorsFilter(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	if _, err := b.TouchCursor(ctx, schema.SourceVault, Base); err != nil {
		t.Fatal(err)
	}
	if _, err := b.TouchCursor(ctx, schema.SourceExtension, Base); err != nil {
		t.Fatal(err)
	}

	all, err := b.ListCursors(ctx, "")
	if err != nil {
		t.Fatalf("ListCursors failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 cursors, got %d", len(all))
	}

	only, err := b.ListCursors(ctx, schema.SourceExtension)
	if err != nil {
		t.Fatalf("ListCursors failed: %v", err)
	}
	if len(only) != 1 || only[0].Source != schema.SourceExtension {
		t.Errorf("expected only the extension cursor, got %+v", only)
	}
}

func testClearSource(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustUpsert(t, b, Record("V1", schema.SourceVault, 0))
	mustUpsert(t, b, Record("V2", schema.SourceVault, time.Second))
	mustUpsert(t, b, Record("E1", schema.SourceExtension, 0))
	if _, err := b.TouchCursor(ctx, schema.SourceVault, Base); err != nil {
		t.Fatal(err)
	}
	if _, err := b.TouchCursor(ctx, schema.SourceExtension, Base); err != nil {
		t.Fatal(err)
	}

	res, err := b.Clear(ctx, schema.SourceVault)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if res.DeletedTasks != 2 || res.DeletedCursors != 1 {
		t.Errorf("unexpected clear result: %+v", res)
	}

	remaining, err := b.ListSince(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(ids(remaining), []string{"E1"}) {
		t.Errorf("expected only E1 to remain, got %v", ids(remaining))
	}
	cursors, err := b.ListCursors(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(cursors) != 1 || cursors[0].Source != schema.SourceExtension {
		t.Errorf("expected only the extension cursor, got %+v", cursors)
	}
}

func testClearAll(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	mustUpsert(t, b, Record("V1", schema.SourceVault, 0))
	mustUpsert(t, b, Record("E1", schema.SourceExtension, 0))
	if _, err := b.TouchCursor(ctx, schema.SourceVault, Base); err != nil {
		t.Fatal(err)
	}

	res, err := b.Clear(ctx, "")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if res.DeletedTasks != 2 || res.DeletedCursors != 1 {
		t.Errorf("unexpected clear result: %+v", res)
	}

	remaining, err := b.ListSince(ctx, storage.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected empty store, got %v", ids(remaining))
	}
}

func testCountBySource(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	done := Record("V2", schema.SourceVault, time.Hour)
	done.Status = schema.StatusCompleted
	mustUpsert(t, b, Record("V1", schema.SourceVault, 0))
	mustUpsert(t, b, done)
	mustUpsert(t, b, Record("E1", schema.SourceExtension, time.Minute))

	counts, err := b.CountBySource(ctx)
	if err != nil {
		t.Fatalf("CountBySource failed: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 sources, got %+v", counts)
	}

	byName := make(map[schema.Source]storage.SourceCount)
	for _, c := range counts {
		byName[c.Source] = c
	}
	vault := byName[schema.SourceVault]
	if vault.Total != 2 || vault.Completed != 1 || !vault.LastUpdated.Equal(done.UpdatedAt) {
		t.Errorf("unexpected vault count: %+v", vault)
	}
	ext := byName[schema.SourceExtension]
	if ext.Total != 1 || ext.Completed != 0 {
		t.Errorf("unexpected extension count: %+v", ext)
	}
}

func testConcurrentUpserts(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := Record("shared", schema.SourceVault, time.Duration(i)*time.Second)
			err := b.Upsert(ctx, rec)
			if err != nil && !errors.Is(err, storage.ErrStaleWrite) {
				t.Errorf("writer %d: unexpected error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := b.GetByID(ctx, "shared")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	want := Base.Add(time.Duration(writers-1) * time.Second)
	if !got.UpdatedAt.Equal(want) {
		t.Errorf("expected newest write %v to survive, got %v", want, got.UpdatedAt)
	}
}
