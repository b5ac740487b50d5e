package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/logging"
	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage/memory"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

func setupService(t *testing.T) (*sync.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	svc, err := sync.New(store, sync.DefaultConfig(), sync.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, store
}

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadJSONL(t *testing.T) {
	input := "{\"id\":\"A\"}\n\n   \n{\"id\":\"B\"}"
	lines, err := ReadJSONL(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if string(lines[1]) != `{"id":"B"}` {
		t.Errorf("second line = %s", lines[1])
	}
}

func TestImport(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	path := writeInput(t,
		`{"id":"T1","title":"Buy milk","updatedAt":"2026-03-01T09:00:00Z"}`,
		`{"id":"T2","title":"Call Bob","priority":"high","updatedAt":"2026-03-01T10:00:00Z"}`,
		`not json`,
		`{"id":"T3","title":"Pay rent","updatedAt":"2026-03-01T11:00:00Z"}`,
	)

	result, err := Import(ctx, svc, ImportOptions{
		FromJSONL: path,
		Source:    "server",
		BatchSize: 2,
		Backup:    true,
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	if result.Read != 4 {
		t.Errorf("Read = %d, want 4", result.Read)
	}
	if result.Synced != 3 {
		t.Errorf("Synced = %d, want 3", result.Synced)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want one", result.Errors)
	}
	if result.Batches != 2 {
		t.Errorf("Batches = %d, want 2", result.Batches)
	}
	if result.BackupCreated == "" {
		t.Error("expected a backup path")
	} else if _, err := os.Stat(result.BackupCreated); err != nil {
		t.Errorf("backup missing: %v", err)
	}

	got, err := store.GetByID(ctx, "T2")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Source != schema.SourceServer || got.Priority != schema.PriorityHigh {
		t.Errorf("stored T2 = %+v", got)
	}

	cursors, err := store.ListCursors(ctx, schema.SourceServer)
	if err != nil {
		t.Fatal(err)
	}
	if len(cursors) != 1 || cursors[0].SyncCount != 2 {
		t.Errorf("cursor = %+v, want one cursor touched twice", cursors)
	}
}

func TestImport_DryRun(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	path := writeInput(t, `{"id":"T1","title":"Buy milk","updatedAt":"2026-03-01T09:00:00Z"}`)

	result, err := Import(ctx, svc, ImportOptions{FromJSONL: path, Source: "vault", DryRun: true, Backup: true})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Read != 1 || result.Synced != 0 || result.BackupCreated != "" {
		t.Errorf("dry run result = %+v", result)
	}
	if _, err := store.GetByID(ctx, "T1"); err == nil {
		t.Error("dry run must not write records")
	}
}

func TestImport_BadOptions(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	path := writeInput(t, `{"id":"T1"}`)

	tests := []struct {
		name string
		opts ImportOptions
	}{
		{"no source", ImportOptions{FromJSONL: path}},
		{"unknown source", ImportOptions{FromJSONL: path, Source: "mobile"}},
		{"missing file", ImportOptions{FromJSONL: filepath.Join(t.TempDir(), "nope.jsonl"), Source: "vault"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Import(ctx, svc, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExport(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	records := []*schema.TaskRecord{
		{ID: "T1", Title: "Buy milk", UpdatedAt: at},
		{ID: "T2", Title: "Call Bob", UpdatedAt: at.Add(time.Hour)},
	}
	if _, err := svc.Push(ctx, "extension", records); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	out := t.TempDir()
	jsonlPath := filepath.Join(out, "backup", "tasks.jsonl")
	filesDir := filepath.Join(out, "vault")

	result, err := Export(ctx, store, ExportOptions{ToJSONL: jsonlPath, ToDir: filesDir})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Records != 2 || result.FilesWritten != 3 {
		t.Errorf("result = %+v, want 2 records and 3 files", result)
	}

	lines, err := FromJSONL(jsonlPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || !strings.Contains(string(lines[0]), `"id":"T2"`) {
		t.Errorf("jsonl lines = %s", lines)
	}

	fromDir, err := schema.ReadAllRecordFiles(filesDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(fromDir) != 2 {
		t.Errorf("got %d record files, want 2", len(fromDir))
	}

	// Round trip into a fresh store keeps the records.
	svc2, store2 := setupService(t)
	if _, err := Import(ctx, svc2, ImportOptions{FromJSONL: jsonlPath, Source: "server"}); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	got, err := store2.GetByID(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("T1 updatedAt = %v, want %v", got.UpdatedAt, at)
	}
}

func TestExport_Since(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, err := svc.Push(ctx, "vault", []*schema.TaskRecord{
		{ID: "old", Title: "old", UpdatedAt: at},
		{ID: "new", Title: "new", UpdatedAt: at.Add(2 * time.Hour)},
	}); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	result, err := Export(ctx, store, ExportOptions{ToJSONL: path, Since: at.Add(time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if result.Records != 1 {
		t.Errorf("Records = %d, want 1", result.Records)
	}
}

func TestExport_NoOutput(t *testing.T) {
	if _, err := Export(context.Background(), memory.New(), ExportOptions{}); err == nil {
		t.Error("expected error without an output")
	}
}
