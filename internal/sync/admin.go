package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
)

// TaskCount summarizes the stored records last written by one source.
type TaskCount struct {
	Source      schema.Source `json:"source"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	LastUpdated time.Time     `json:"last_updated"`
}

// StatusReport is a snapshot of the sync state.
type StatusReport struct {
	SyncMetadata []*schema.SyncCursor `json:"syncMetadata"`
	TaskCounts   []TaskCount          `json:"taskCounts"`
	ServerTime   time.Time            `json:"serverTime"`
}

// ClearRequest selects what Clear removes.
type ClearRequest struct {
	// Source limits the clear to one source (empty = everything)
	Source string `json:"source,omitempty"`
	// Confirm must equal ClearConfirmToken
	Confirm string `json:"confirm"`
}

// ClearResult reports what Clear removed.
type ClearResult struct {
	DeletedTasks   int `json:"deletedTasks"`
	DeletedCursors int `json:"deletedCursors"`
}

// Status returns every cursor and per-source record counts.
func (s *Service) Status(ctx context.Context) (*StatusReport, error) {
	cursors, err := s.registry.List(ctx, "")
	if err != nil {
		return nil, err
	}

	counts, err := s.backend.CountBySource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	report := &StatusReport{
		SyncMetadata: cursors,
		TaskCounts:   make([]TaskCount, 0, len(counts)),
		ServerTime:   schema.NormalizeTime(s.now()),
	}
	for _, c := range counts {
		report.TaskCounts = append(report.TaskCounts, TaskCount{
			Source:      c.Source,
			Total:       c.Total,
			Completed:   c.Completed,
			LastUpdated: c.LastUpdated,
		})
	}
	return report, nil
}

// Clear deletes stored records and cursors. req.Confirm must equal
// ClearConfirmToken exactly, otherwise nothing is deleted.
func (s *Service) Clear(ctx context.Context, req ClearRequest) (*ClearResult, error) {
	if req.Confirm != ClearConfirmToken {
		return nil, &ValidationError{
			Field:   "confirm",
			Message: fmt.Sprintf("confirmation token must be %s", ClearConfirmToken),
		}
	}

	var source schema.Source
	if req.Source != "" {
		src, err := parseSource(req.Source)
		if err != nil {
			return nil, err
		}
		source = src
	}

	res, err := s.backend.Clear(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("clear failed: %w", err)
	}

	result := &ClearResult{
		DeletedTasks:   res.DeletedTasks,
		DeletedCursors: res.DeletedCursors,
	}

	scope := string(source)
	if scope == "" {
		scope = "all"
	}
	s.logger.Warn("sync data cleared",
		"scope", scope,
		"deleted_tasks", result.DeletedTasks,
		"deleted_cursors", result.DeletedCursors,
	)

	if s.notifier != nil {
		s.notifier.DataCleared(source, result)
	}
	return result, nil
}
