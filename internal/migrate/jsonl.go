// Package migrate moves task records in and out of a store in bulk, either
// as a JSONL archive or as a directory of per-record files.
package migrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

// DefaultBatchSize is the number of records sent per push during Import.
const DefaultBatchSize = 200

// maxLineSize bounds a single JSONL line.
const maxLineSize = 4 * 1024 * 1024

// Pusher ingests undecoded records on behalf of a source.
type Pusher interface {
	PushRaw(ctx context.Context, source string, raw []json.RawMessage) (*sync.PushResult, error)
}

// ImportOptions contains configuration for Import
type ImportOptions struct {
	FromJSONL string // Input JSONL file path
	Source    string // Source the records are pushed as
	BatchSize int    // Records per push (0 = DefaultBatchSize)
	DryRun    bool   // Parse only
	Backup    bool   // Copy the input aside before importing
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Read          int
	Synced        int
	Conflicts     int
	Errors        []string
	Batches       int
	BackupCreated string
}

// ExportOptions contains configuration for Export. At least one of ToJSONL
// and ToDir must be set.
type ExportOptions struct {
	ToJSONL string    // Output JSONL file path
	ToDir   string    // Output directory for per-record files
	Since   time.Time // Only records updated after this (zero = all)
}

// ExportResult contains statistics about an export
type ExportResult struct {
	Records      int
	FilesWritten int
}

// FromJSONL reads a JSONL file and returns one raw message per non-blank
// line. Lines are not decoded into records so that a bad line becomes a
// per-record push error instead of aborting the import.
func FromJSONL(path string) ([]json.RawMessage, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	return ReadJSONL(file)
}

// ReadJSONL is FromJSONL for an open reader.
func ReadJSONL(r io.Reader) ([]json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var lines []json.RawMessage
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL at line %d: %w", lineNum+1, err)
	}
	return lines, nil
}

// WriteJSONL writes one compact JSON object per record.
func WriteJSONL(w io.Writer, records []*schema.TaskRecord) error {
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Import pushes every line of opts.FromJSONL through p in batches. Conflicts
// and per-record errors are counted, not returned; the error is reserved for
// unreadable input and failed pushes.
func Import(ctx context.Context, p Pusher, opts ImportOptions) (*ImportResult, error) {
	if opts.Source == "" {
		return nil, fmt.Errorf("import requires a source")
	}
	if _, err := schema.ParseSource(opts.Source); err != nil {
		return nil, err
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if _, err := os.Stat(opts.FromJSONL); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	result := &ImportResult{}
	if opts.Backup && !opts.DryRun {
		backupPath := opts.FromJSONL + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.FromJSONL)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	lines, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}
	result.Read = len(lines)

	if opts.DryRun {
		return result, nil
	}

	for start := 0; start < len(lines); start += batchSize {
		end := min(start+batchSize, len(lines))
		res, err := p.PushRaw(ctx, opts.Source, lines[start:end])
		if res != nil {
			result.Synced += res.Synced
			result.Conflicts += len(res.Conflicts)
			for _, e := range res.Errors {
				result.Errors = append(result.Errors, e.Error())
			}
		}
		if err != nil {
			return result, fmt.Errorf("push of lines %d-%d failed: %w", start+1, end, err)
		}
		result.Batches++
	}

	return result, nil
}

// Export writes stored records, newest first, to a JSONL file and/or a
// directory of {id}.json files. The JSONL file is replaced atomically.
func Export(ctx context.Context, store storage.Store, opts ExportOptions) (*ExportResult, error) {
	if opts.ToJSONL == "" && opts.ToDir == "" {
		return nil, fmt.Errorf("export requires an output file or directory")
	}

	records, err := store.ListSince(ctx, storage.ListOptions{Since: opts.Since})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	result := &ExportResult{Records: len(records)}

	if opts.ToJSONL != "" {
		if err := writeFileAtomic(opts.ToJSONL, func(w io.Writer) error {
			return WriteJSONL(w, records)
		}); err != nil {
			return nil, err
		}
		result.FilesWritten++
	}

	if opts.ToDir != "" {
		for _, rec := range records {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if err := schema.WriteRecordFile(opts.ToDir, rec); err != nil {
				return result, err
			}
			result.FilesWritten++
		}
	}

	return result, nil
}

// writeFileAtomic writes via a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
