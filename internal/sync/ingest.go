package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Conflict reports a pushed record that lost to the stored version.
type Conflict struct {
	TaskID     string     `json:"taskId"`
	Reason     string     `json:"reason"`
	Resolution Resolution `json:"resolution"`
}

// PushResult summarizes one push. Conflicts and Errors keep the order of
// the pushed records.
type PushResult struct {
	Synced    int            `json:"synced"`
	Conflicts []Conflict     `json:"conflicts"`
	Errors    []*RecordError `json:"errors"`

	// Cursor is the pushing source's cursor after the batch.
	Cursor *schema.SyncCursor `json:"-"`
}

// item is one entry of a batch, already decoded or carrying the decode error.
type item struct {
	rec    *schema.TaskRecord
	taskID string
	err    error
}

type outcomeKind int

const (
	outcomeApplied outcomeKind = iota
	outcomeConflict
	outcomeError
)

type outcome struct {
	kind     outcomeKind
	conflict Conflict
	err      *RecordError
}

// Push ingests records written by source.
//
// Every record is handled independently: rejected records are reported as
// conflicts, bad records as errors, and neither stops the batch. The
// source's cursor is touched exactly once afterwards. The returned error is
// non-nil only when the request itself is invalid (*ValidationError), the
// backend is unreachable (storage.ErrUnavailable), the context was canceled,
// or the cursor could not be updated; in the last two cases the partial
// result is returned alongside it.
func (s *Service) Push(ctx context.Context, source string, records []*schema.TaskRecord) (*PushResult, error) {
	items := make([]item, len(records))
	for i, rec := range records {
		if rec == nil {
			items[i] = item{err: fmt.Errorf("record is null")}
			continue
		}
		items[i] = item{rec: rec, taskID: rec.ID}
	}
	return s.push(ctx, source, items)
}

// PushRaw is Push for undecoded JSON records. A record that fails to decode
// becomes a per-record error instead of failing the batch.
func (s *Service) PushRaw(ctx context.Context, source string, raw []json.RawMessage) (*PushResult, error) {
	items := make([]item, len(raw))
	for i, data := range raw {
		items[i] = decodeItem(data)
	}
	return s.push(ctx, source, items)
}

func decodeItem(data json.RawMessage) item {
	var rec schema.TaskRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Recover the id for the error report when possible.
		var probe struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(data, &probe)
		return item{taskID: probe.ID, err: fmt.Errorf("malformed task: %w", err)}
	}
	return item{rec: &rec, taskID: rec.ID}
}

func (s *Service) push(ctx context.Context, rawSource string, items []item) (*PushResult, error) {
	source, err := parseSource(rawSource)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.backend.Ping(ctx); err != nil {
		if !errors.Is(err, storage.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
		}
		s.logger.Error("push rejected, storage unavailable", "source", source, "error", err)
		return nil, err
	}

	outcomes := make([]outcome, len(items))

	// Records that have started always run to completion; cancellation only
	// stops new ones from being scheduled.
	workCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	scheduled := 0
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = s.ingestOne(workCtx, source, items[i])
			return nil
		})
		scheduled++
	}
	_ = g.Wait()

	result := &PushResult{
		Conflicts: []Conflict{},
		Errors:    []*RecordError{},
	}
	for _, o := range outcomes[:scheduled] {
		switch o.kind {
		case outcomeApplied:
			result.Synced++
		case outcomeConflict:
			result.Conflicts = append(result.Conflicts, o.conflict)
		case outcomeError:
			result.Errors = append(result.Errors, o.err)
		}
	}

	if scheduled < len(items) {
		s.logger.Warn("push interrupted",
			"source", source, "processed", scheduled, "total", len(items))
		return result, fmt.Errorf("push interrupted after %d of %d records: %w", scheduled, len(items), ctx.Err())
	}

	cursor, err := s.registry.Touch(ctx, source)
	if err != nil {
		s.logger.Error("cursor update failed", "source", source, "error", err)
		return result, err
	}
	result.Cursor = cursor

	s.logger.Info("push completed",
		"source", source,
		"records", len(items),
		"synced", result.Synced,
		"conflicts", len(result.Conflicts),
		"errors", len(result.Errors),
		"sync_count", cursor.SyncCount,
	)

	if s.notifier != nil {
		s.notifier.PushCompleted(source, result)
	}
	return result, nil
}

// ingestOne runs lookup, resolve and upsert for one record under its id lock.
func (s *Service) ingestOne(ctx context.Context, source schema.Source, it item) outcome {
	if it.err != nil {
		return recordFailure(it.taskID, it.err)
	}

	rec := it.rec.Clone()
	rec.Source = source
	rec.SyncStatus = ""
	rec.Normalize()
	rec.SetDefaults()
	if err := rec.Validate(); err != nil {
		return recordFailure(rec.ID, err)
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	existing, err := s.backend.GetByID(ctx, rec.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case err != nil:
		s.logger.Warn("lookup failed", "task_id", rec.ID, "error", err)
		return recordFailure(rec.ID, fmt.Errorf("lookup failed: %w", err))
	default:
		rec.CreatedAt = existing.CreatedAt
	}

	d := s.resolver.Resolve(existing, rec)
	if !d.Apply {
		s.logger.Debug("record rejected",
			"task_id", rec.ID, "source", source, "reason", d.Reason)
		return outcome{kind: outcomeConflict, conflict: Conflict{
			TaskID:     rec.ID,
			Reason:     d.Reason,
			Resolution: d.Resolution,
		}}
	}
	if d.Unchanged {
		return outcome{kind: outcomeApplied}
	}

	if err := s.backend.Upsert(ctx, rec); err != nil {
		if errors.Is(err, storage.ErrStaleWrite) {
			// Another process stored a newer version after our lookup.
			return outcome{kind: outcomeConflict, conflict: Conflict{
				TaskID:     rec.ID,
				Reason:     ReasonServerNewer,
				Resolution: ResolutionServerWins,
			}}
		}
		s.logger.Warn("upsert failed", "task_id", rec.ID, "error", err)
		return recordFailure(rec.ID, fmt.Errorf("store failed: %w", err))
	}

	s.logger.Debug("record applied",
		"task_id", rec.ID, "source", source, "reason", d.Reason)
	if s.notifier != nil {
		s.notifier.RecordApplied(rec.Clone(), d)
	}
	return outcome{kind: outcomeApplied}
}

func recordFailure(taskID string, err error) outcome {
	return outcome{kind: outcomeError, err: &RecordError{TaskID: taskID, Err: err}}
}
