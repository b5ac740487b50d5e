package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
)

// Pull returns records changed after since that were last written by a
// source other than the pulling one, newest first and capped at
// Config.MaxPullLimit. A zero since returns everything; an empty source
// disables echo suppression.
//
// When more records changed than the cap allows, only the newest are
// returned. A client that advances its since to the newest updatedAt it
// received will not see the older remainder.
func (s *Service) Pull(ctx context.Context, source string, since time.Time) ([]*schema.TaskRecord, error) {
	var exclude schema.Source
	if source != "" {
		src, err := parseSource(source)
		if err != nil {
			return nil, err
		}
		exclude = src
	}

	records, err := s.backend.ListSince(ctx, storage.ListOptions{
		Since:         schema.NormalizeTime(since),
		ExcludeSource: exclude,
		Limit:         s.cfg.MaxPullLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}

	for _, rec := range records {
		rec.SyncStatus = schema.SyncStatusSynced
	}

	s.logger.Debug("pull served",
		"source", exclude, "since", since, "count", len(records))
	return records, nil
}
