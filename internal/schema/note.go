package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// noteFrontMatter is the subset of a vault note's front matter that maps onto
// a TaskRecord. Timestamps are decoded loosely because YAML and TOML hand them
// over either as native datetimes or as plain strings.
type noteFrontMatter struct {
	ID               string  `yaml:"id" toml:"id"`
	Title            string  `yaml:"title" toml:"title"`
	Description      string  `yaml:"description" toml:"description"`
	Status           string  `yaml:"status" toml:"status"`
	Priority         string  `yaml:"priority" toml:"priority"`
	EstimatedMinutes float64 `yaml:"estimatedMinutes" toml:"estimatedMinutes"`
	ActualMinutes    float64 `yaml:"actualMinutes" toml:"actualMinutes"`
	CreatedAt        any     `yaml:"createdAt" toml:"createdAt"`
	UpdatedAt        any     `yaml:"updatedAt" toml:"updatedAt"`
}

var noteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// IsRecordFile reports whether name has an extension ParseRecords understands.
func IsRecordFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".md", ".markdown":
		return true
	}
	return false
}

// ParseRecords decodes the task records held in a file's contents. The file
// name selects the encoding:
//
//   - *.json: a single record object or an array of records
//   - *.md, *.markdown: a note with YAML (---) or TOML (+++) front matter;
//     the note body becomes the description when none is given
//
// Records are returned as decoded; validation is left to ingest so that a bad
// record is reported rather than silently dropped.
func ParseRecords(name string, data []byte) ([]*TaskRecord, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return parseJSONRecords(data)
	case ".md", ".markdown":
		rec, err := parseNote(data)
		if err != nil {
			return nil, err
		}
		return []*TaskRecord{rec}, nil
	default:
		return nil, fmt.Errorf("unsupported record file type %q", filepath.Ext(name))
	}
}

func parseJSONRecords(data []byte) ([]*TaskRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty record file")
	}

	if trimmed[0] == '[' {
		var records []*TaskRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to parse record array: %w", err)
		}
		return records, nil
	}

	var rec TaskRecord
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	return []*TaskRecord{&rec}, nil
}

func parseNote(data []byte) (*TaskRecord, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	var delim string
	switch {
	case strings.HasPrefix(text, "---\n"):
		delim = "---"
	case strings.HasPrefix(text, "+++\n"):
		delim = "+++"
	default:
		return nil, fmt.Errorf("note has no front matter")
	}

	rest := text[len(delim)+1:]
	end := strings.Index(rest, "\n"+delim)
	var header, body string
	switch {
	case strings.HasPrefix(rest, delim):
		// Empty front matter block.
		header, body = "", rest[len(delim):]
	case end >= 0:
		header, body = rest[:end], rest[end+len(delim)+1:]
	default:
		return nil, fmt.Errorf("unterminated front matter")
	}

	var fm noteFrontMatter
	if delim == "---" {
		if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
			return nil, fmt.Errorf("failed to parse YAML front matter: %w", err)
		}
	} else {
		if err := toml.Unmarshal([]byte(header), &fm); err != nil {
			return nil, fmt.Errorf("failed to parse TOML front matter: %w", err)
		}
	}

	createdAt, err := parseNoteTime(fm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("createdAt: %w", err)
	}
	updatedAt, err := parseNoteTime(fm.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("updatedAt: %w", err)
	}

	rec := &TaskRecord{
		ID:               fm.ID,
		Title:            fm.Title,
		Description:      fm.Description,
		Status:           Status(fm.Status),
		Priority:         Priority(fm.Priority),
		EstimatedMinutes: fm.EstimatedMinutes,
		ActualMinutes:    fm.ActualMinutes,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if rec.Description == "" {
		rec.Description = strings.TrimSpace(strings.TrimPrefix(body, "\n"))
	}
	return rec, nil
}

func parseNoteTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range noteTimeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp value %v (%T)", v, v)
	}
}

// ReadRecordFile reads and decodes the records stored in a single file.
func ReadRecordFile(path string) ([]*TaskRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file %s: %w", path, err)
	}

	records, err := ParseRecords(path, data)
	if err != nil {
		return nil, fmt.Errorf("invalid record file %s: %w", path, err)
	}
	return records, nil
}

// ReadAllRecordFiles reads every record file in dir. Files that cannot be
// decoded are passed to onSkip (when non-nil) and otherwise ignored.
func ReadAllRecordFiles(dir string, onSkip func(path string, err error)) ([]*TaskRecord, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*TaskRecord{}, nil // Empty directory is valid
		}
		return nil, fmt.Errorf("failed to read records directory: %w", err)
	}

	var records []*TaskRecord
	for _, entry := range entries {
		if entry.IsDir() || !IsRecordFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		recs, err := ReadRecordFile(path)
		if err != nil {
			if onSkip != nil {
				onSkip(path, err)
			}
			continue
		}
		records = append(records, recs...)
	}

	return records, nil
}

// WriteRecordFile writes a record to dir/{id}.json with indented formatting.
func WriteRecordFile(dir string, rec *TaskRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("cannot write record without id")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}

	path := filepath.Join(dir, rec.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file %s: %w", path, err)
	}
	return nil
}
