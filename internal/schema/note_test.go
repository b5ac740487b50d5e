package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseRecords_JSONObject(t *testing.T) {
	data := []byte(`{"id":"T1","title":"Buy milk","status":"pending","priority":"low","updatedAt":"2026-03-01T10:00:00Z"}`)

	records, err := ParseRecords("T1.json", data)
	if err != nil {
		t.Fatalf("ParseRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ID != "T1" || records[0].Priority != PriorityLow {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestParseRecords_JSONArray(t *testing.T) {
	data := []byte(`
	[
		{"id":"T1","title":"a","updatedAt":"2026-03-01T10:00:00Z"},
		{"id":"T2","title":"b","updatedAt":"2026-03-01T11:00:00Z"}
	]`)

	records, err := ParseRecords("batch.json", data)
	if err != nil {
		t.Fatalf("ParseRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[1].ID != "T2" {
		t.Errorf("expected second record T2, got %s", records[1].ID)
	}
}

func TestParseRecords_YAMLFrontMatter(t *testing.T) {
	note := "---\n" +
		"id: T7\n" +
		"title: Plan trip\n" +
		"status: in_progress\n" +
		"priority: urgent\n" +
		"estimatedMinutes: 45\n" +
		"updatedAt: 2026-03-01T10:00:00Z\n" +
		"---\n" +
		"Book flights and hotel.\n"

	records, err := ParseRecords("Plan trip.md", []byte(note))
	if err != nil {
		t.Fatalf("ParseRecords failed: %v", err)
	}
	rec := records[0]

	if rec.ID != "T7" || rec.Status != StatusInProgress || rec.Priority != PriorityUrgent {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.EstimatedMinutes != 45 {
		t.Errorf("expected estimate 45, got %v", rec.EstimatedMinutes)
	}
	if rec.Description != "Book flights and hotel." {
		t.Errorf("expected body as description, got %q", rec.Description)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !rec.UpdatedAt.Equal(want) {
		t.Errorf("expected updatedAt %v, got %v", want, rec.UpdatedAt)
	}
}

func TestParseRecords_YAMLQuotedTimestamp(t *testing.T) {
	note := "---\nid: T8\ntitle: x\nupdatedAt: \"2026-03-01 10:00\"\n---\n"

	records, err := ParseRecords("x.md", []byte(note))
	if err != nil {
		t.Fatalf("ParseRecords failed: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !records[0].UpdatedAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, records[0].UpdatedAt)
	}
}

func TestParseRecords_TOMLFrontMatter(t *testing.T) {
	note := "+++\n" +
		"id = \"T9\"\n" +
		"title = \"Call plumber\"\n" +
		"description = \"Kitchen sink\"\n" +
		"priority = \"high\"\n" +
		"updatedAt = 2026-03-01T10:00:00Z\n" +
		"+++\n" +
		"ignored body\n"

	records, err := ParseRecords("call.md", []byte(note))
	if err != nil {
		t.Fatalf("ParseRecords failed: %v", err)
	}
	rec := records[0]

	if rec.ID != "T9" || rec.Priority != PriorityHigh {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Description != "Kitchen sink" {
		t.Errorf("front matter description should win over body, got %q", rec.Description)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("expected updatedAt to be parsed")
	}
}

func TestParseRecords_Errors(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		data   string
		errMsg string
	}{
		{"empty json", "a.json", "  ", "empty record file"},
		{"bad json", "a.json", "{", "failed to parse record"},
		{"no front matter", "a.md", "# Just a heading\n", "no front matter"},
		{"unterminated", "a.md", "---\nid: T1\n", "unterminated front matter"},
		{"bad timestamp", "a.md", "---\nid: T1\nupdatedAt: yesterday\n---\n", "unrecognized timestamp"},
		{"unsupported", "a.txt", "id=T1", "unsupported record file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecords(tt.file, []byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestReadAllRecordFiles(t *testing.T) {
	dir := t.TempDir()

	rec := validRecord()
	if err := WriteRecordFile(dir, &rec); err != nil {
		t.Fatalf("WriteRecordFile failed: %v", err)
	}
	note := "---\nid: T2\ntitle: From note\nupdatedAt: 2026-03-01T10:00:00Z\n---\n"
	if err := os.WriteFile(filepath.Join(dir, "note.md"), []byte(note), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatal(err)
	}

	var skipped []string
	records, err := ReadAllRecordFiles(dir, func(path string, err error) {
		skipped = append(skipped, filepath.Base(path))
	})
	if err != nil {
		t.Fatalf("ReadAllRecordFiles failed: %v", err)
	}

	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
	if len(skipped) != 1 || skipped[0] != "broken.json" {
		t.Errorf("expected broken.json to be skipped, got %v", skipped)
	}
}

func TestReadAllRecordFiles_MissingDir(t *testing.T) {
	records, err := ReadAllRecordFiles(filepath.Join(t.TempDir(), "nope"), nil)
	if err != nil {
		t.Fatalf("missing directory should not be an error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}
