package daemon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage/memory"
	tasksync "github.com/mschirtzinger/tasksync/internal/sync"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// recordingPusher forwards to a real service and reports each batch's ids.
type recordingPusher struct {
	next    Pusher
	sources chan string
	batches chan []string
}

func (p *recordingPusher) Push(ctx context.Context, source string, records []*schema.TaskRecord) (*tasksync.PushResult, error) {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)

	res, err := p.next.Push(ctx, source, records)
	p.sources <- source
	p.batches <- ids
	return res, err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestService(t *testing.T) (*recordingPusher, *memory.Store) {
	t.Helper()

	store := memory.New()
	svc, err := tasksync.New(store, tasksync.DefaultConfig(), tasksync.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return &recordingPusher{
		next:    svc,
		sources: make(chan string, 16),
		batches: make(chan []string, 16),
	}, store
}

func writeTask(t *testing.T, dir, id string, at time.Time) {
	t.Helper()

	rec := &schema.TaskRecord{
		ID:        id,
		Title:     "Task " + id,
		Status:    schema.StatusPending,
		Priority:  schema.PriorityMedium,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if err := schema.WriteRecordFile(dir, rec); err != nil {
		t.Fatalf("Failed to write task file: %v", err)
	}
}

func nextBatch(t *testing.T, p *recordingPusher) []string {
	t.Helper()
	select {
	case <-p.sources:
		return <-p.batches
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for push")
		return nil
	}
}

// startDaemon runs d until the test ends and returns once the initial sync
// has been pushed.
func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func TestNew(t *testing.T) {
	p, _ := setupTestService(t)
	dir := t.TempDir()

	tests := []struct {
		name    string
		pusher  Pusher
		dir     string
		config  *Config
		wantErr bool
	}{
		{"valid configuration", p, dir, nil, false},
		{"nil pusher", nil, dir, nil, true},
		{"empty dir", p, "", nil, true},
		{"unknown source", p, dir, &Config{Source: "phone"}, true},
		{"zero values get defaults", p, dir, &Config{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.pusher, tt.dir, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if d.config.Source != schema.SourceVault {
				t.Errorf("Source = %q, want vault", d.config.Source)
			}
			if d.config.DebounceInterval != 250*time.Millisecond {
				t.Errorf("DebounceInterval = %v, want 250ms", d.config.DebounceInterval)
			}
		})
	}
}

func TestPerformFullSync(t *testing.T) {
	p, store := setupTestService(t)
	dir := t.TempDir()

	writeTask(t, dir, "T1", t0)
	writeTask(t, dir, "T2", t0.Add(time.Minute))
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := New(p, dir, &Config{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.PerformFullSync(context.Background())
	if err != nil {
		t.Fatalf("PerformFullSync failed: %v", err)
	}
	if res.Synced != 2 {
		t.Errorf("Synced = %d, want 2", res.Synced)
	}
	if got := <-p.sources; got != "vault" {
		t.Errorf("source = %q, want vault", got)
	}

	rec, err := store.GetByID(context.Background(), "T2")
	if err != nil {
		t.Fatalf("T2 not stored: %v", err)
	}
	if rec.Source != schema.SourceVault {
		t.Errorf("stored source = %q, want vault", rec.Source)
	}

	cursors, _ := store.ListCursors(context.Background(), schema.SourceVault)
	if len(cursors) != 1 || cursors[0].SyncCount != 1 {
		t.Errorf("cursor = %+v, want one push", cursors)
	}
}

func TestPerformFullSync_Empty(t *testing.T) {
	p, store := setupTestService(t)

	d, err := New(p, t.TempDir(), &Config{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	res, err := d.PerformFullSync(context.Background())
	if err != nil || res != nil {
		t.Fatalf("PerformFullSync() = %v, %v; want nil, nil", res, err)
	}

	// An empty vault must not count as a push.
	cursors, _ := store.ListCursors(context.Background(), "")
	if len(cursors) != 0 {
		t.Errorf("cursors = %v, want none", cursors)
	}
}

func TestRun_PushesChanges(t *testing.T) {
	p, store := setupTestService(t)
	dir := t.TempDir()
	writeTask(t, dir, "T1", t0)

	d, err := New(p, dir, &Config{DebounceInterval: 50 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)

	if got := nextBatch(t, p); len(got) != 1 || got[0] != "T1" {
		t.Fatalf("initial batch = %v, want [T1]", got)
	}

	// A burst of edits to two files settles into pushes carrying both.
	writeTask(t, dir, "T2", t0.Add(time.Minute))
	writeTask(t, dir, "T3", t0.Add(2*time.Minute))
	writeTask(t, dir, "T2", t0.Add(3*time.Minute))

	seen := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !seen["T2"] || !seen["T3"] {
		select {
		case <-p.sources:
			for _, id := range <-p.batches {
				seen[id] = true
			}
		case <-deadline:
			t.Fatalf("timed out; seen %v", seen)
		}
	}

	// The last edit wins, whichever batch carried it.
	want := t0.Add(3 * time.Minute)
	for end := time.Now().Add(5 * time.Second); ; {
		rec, err := store.GetByID(context.Background(), "T2")
		if err == nil && rec.UpdatedAt.Equal(want) {
			break
		}
		if time.Now().After(end) {
			t.Fatalf("T2 never reached last edit: %+v, %v", rec, err)
		}
		select {
		case <-p.sources:
			<-p.batches
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestRun_IgnoresOtherFiles(t *testing.T) {
	p, _ := setupTestService(t)
	dir := t.TempDir()

	d, err := New(p, dir, &Config{DebounceInterval: 20 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	startDaemon(t, d)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	writeTask(t, dir, "T1", t0)

	// The only push is the one carrying the task file.
	if got := nextBatch(t, p); len(got) != 1 || got[0] != "T1" {
		t.Fatalf("batch = %v, want [T1]", got)
	}
}

func TestSettled(t *testing.T) {
	p, _ := setupTestService(t)
	d, err := New(p, t.TempDir(), &Config{DebounceInterval: time.Second, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	d.changeQueue["/v/old.json"] = now.Add(-2 * time.Second)
	d.changeQueue["/v/fresh.json"] = now

	got := d.settled(now)
	if len(got) != 1 || got[0] != "/v/old.json" {
		t.Errorf("settled = %v, want [/v/old.json]", got)
	}
	if _, ok := d.changeQueue["/v/fresh.json"]; !ok {
		t.Error("fresh change was dropped from the queue")
	}
	if _, ok := d.changeQueue["/v/old.json"]; ok {
		t.Error("settled change still queued")
	}
}
