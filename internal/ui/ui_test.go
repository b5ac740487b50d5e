package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

func TestPrinter_Status(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	report := &sync.StatusReport{
		SyncMetadata: []*schema.SyncCursor{
			{Source: schema.SourceVault, LastSyncAt: at, SyncCount: 3},
		},
		TaskCounts: []sync.TaskCount{
			{Source: schema.SourceVault, Total: 5, Completed: 2, LastUpdated: at},
		},
		ServerTime: at,
	}

	var buf bytes.Buffer
	NewPrinter(&buf).Status(report)
	out := buf.String()

	for _, want := range []string{"Sync status", "vault", "2026-03-01 09:00:00", "PUSHES", "COMPLETED"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Not a terminal, so no ANSI escapes.
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected escape codes in non-terminal output: %q", out)
	}
}

func TestPrinter_StatusEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Status(&sync.StatusReport{})

	out := buf.String()
	if !strings.Contains(out, "no pushes yet") || !strings.Contains(out, "no tasks stored") {
		t.Errorf("empty report not rendered:\n%s", out)
	}
}

func TestPrinter_PushResult(t *testing.T) {
	res := &sync.PushResult{
		Synced:    2,
		Conflicts: []sync.Conflict{{TaskID: "T1", Reason: "Server version is newer"}},
		Errors:    []*sync.RecordError{{TaskID: "T2", Err: errors.New("title is required")}},
	}

	var buf bytes.Buffer
	NewPrinter(&buf).PushResult("vault", res)
	out := buf.String()

	for _, want := range []string{"2 synced", "from vault", "T1: Server version is newer", "task T2: title is required"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTerminalWidth_NonTerminal(t *testing.T) {
	if got := TerminalWidth(&bytes.Buffer{}); got != 80 {
		t.Errorf("TerminalWidth = %d, want 80", got)
	}
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("buffer reported as terminal")
	}
}
