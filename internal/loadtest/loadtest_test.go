package loadtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/storage/memory"
	"github.com/mschirtzinger/tasksync/internal/storage/sqlite"
	tasksync "github.com/mschirtzinger/tasksync/internal/sync"
)

func newService(t *testing.T, backend storage.Backend) *tasksync.Service {
	t.Helper()
	svc, err := tasksync.New(backend, tasksync.DefaultConfig(),
		tasksync.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc
}

// TestRun_Memory checks last-write-wins under heavy contention.
func TestRun_Memory(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	opts := Options{Clients: 16, PushesPerClient: 10, BatchSize: 8, IDs: 10, Seed: 7}
	report, err := Run(context.Background(), svc, store, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Violations) != 0 {
		t.Errorf("Got %d LWW violations: %+v", len(report.Violations), report.Violations)
	}
	if report.Push.TotalQueries != 160 {
		t.Errorf("Expected 160 pushes, got %d", report.Push.TotalQueries)
	}
	if report.Push.Errors != 0 || report.Pull.Errors != 0 || report.Errors != 0 {
		t.Errorf("Unexpected errors: push=%d pull=%d records=%d",
			report.Push.Errors, report.Pull.Errors, report.Errors)
	}
	if got := report.Synced + report.Conflicts; got != 16*10*8 {
		t.Errorf("synced+conflicts = %d, want %d", got, 16*10*8)
	}

	// Every push touched its source's cursor exactly once.
	cursors, err := store.ListCursors(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, c := range cursors {
		total += c.SyncCount
	}
	if total != 160 {
		t.Errorf("sum of sync counts = %d, want 160", total)
	}
}

func TestRun_SQLite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping sqlite load test in short mode")
	}

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "load.db"))
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	defer store.Close()
	svc := newService(t, store)

	opts := Options{Clients: 8, PushesPerClient: 5, BatchSize: 5, IDs: 10, Seed: 11}
	report, err := Run(context.Background(), svc, store, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Violations) != 0 {
		t.Errorf("Got %d LWW violations: %+v", len(report.Violations), report.Violations)
	}

	var buf bytes.Buffer
	report.Print(&buf)
	t.Log(buf.String())
}

func TestRun_InvalidOptions(t *testing.T) {
	store := memory.New()
	svc := newService(t, store)

	if _, err := Run(context.Background(), svc, store, Options{Clients: 0, PushesPerClient: 1, BatchSize: 1, IDs: 1}); err == nil {
		t.Error("expected error for zero clients")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durs []time.Duration
	for i := 100; i >= 1; i-- {
		durs = append(durs, time.Duration(i)*time.Millisecond)
	}

	s := computeLatencyStats(durs)
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v, want 96ms", s.P95)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", s.Mean)
	}
	if empty := computeLatencyStats(nil); empty.TotalQueries != 0 {
		t.Error("empty input should give zero stats")
	}
}

func TestReport_Print(t *testing.T) {
	r := &Report{
		Push:       computeLatencyStats([]time.Duration{time.Millisecond}),
		Pull:       computeLatencyStats([]time.Duration{time.Millisecond}),
		Synced:     3,
		Violations: []Violation{{TaskID: "load-0001"}},
	}

	var buf bytes.Buffer
	r.Print(&buf)

	out := buf.String()
	for _, want := range []string{"Push Latency", "Pull Latency", "3 synced", "LWW violations: 1", "load-0001"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
