package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/mschirtzinger/tasksync/internal/schema"
	"github.com/mschirtzinger/tasksync/internal/storage"
	"github.com/mschirtzinger/tasksync/internal/sync"
)

// TaskUpdateData is the payload of a task_update message
type TaskUpdateData struct {
	TaskID    string          `json:"task_id"`
	Action    string          `json:"action"` // created, updated
	Status    schema.Status   `json:"status"`
	Title     string          `json:"title"`
	Priority  schema.Priority `json:"priority"`
	Source    schema.Source   `json:"source"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SyncCompleteData is the payload of a sync_complete message
type SyncCompleteData struct {
	Source    schema.Source `json:"source"`
	Synced    int           `json:"synced"`
	Conflicts int           `json:"conflicts"`
	Errors    int           `json:"errors"`
	SyncCount int64         `json:"sync_count,omitempty"`
}

// ClearedData is the payload of a sync_cleared message
type ClearedData struct {
	Source         schema.Source `json:"source,omitempty"`
	DeletedTasks   int           `json:"deleted_tasks"`
	DeletedCursors int           `json:"deleted_cursors"`
}

// StatsData is the payload of a stats message
type StatsData struct {
	Total     int                          `json:"total"`
	Completed int                          `json:"completed"`
	BySource  map[schema.Source]SourceStat `json:"by_source"`
}

// SourceStat holds the counts for one source
type SourceStat struct {
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	LastUpdated time.Time `json:"last_updated"`
}

// Counter reports per-source record counts. storage backends satisfy it.
type Counter interface {
	CountBySource(ctx context.Context) ([]storage.SourceCount, error)
}

// Handler turns sync notifications into dashboard messages.
// It implements sync.Notifier and never blocks the caller.
type Handler struct {
	hub     *Hub
	counter Counter
	logger  *slog.Logger

	// refresh coalesces stats recomputation requests
	refresh chan struct{}
}

var _ sync.Notifier = (*Handler)(nil)

// NewHandler creates a handler that broadcasts through hub and reads stats
// from counter. It registers itself as the hub's welcome producer.
func NewHandler(hub *Hub, counter Counter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		hub:     hub,
		counter: counter,
		logger:  logger.With("component", "dashboard"),
		refresh: make(chan struct{}, 1),
	}
	hub.SetWelcome(h.statsMessage)
	return h
}

// Run recomputes and broadcasts stats whenever a refresh was requested,
// until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.refresh:
			msg, err := h.statsMessage(ctx)
			if err != nil {
				h.logger.Warn("failed to compute stats", "error", err)
				continue
			}
			h.hub.Broadcast(msg)
		}
	}
}

// RecordApplied broadcasts a task_update for a written record.
func (h *Handler) RecordApplied(rec *schema.TaskRecord, d sync.Decision) {
	if d.Unchanged {
		return
	}

	action := "updated"
	if d.Reason == sync.ReasonCreated {
		action = "created"
	}

	h.logger.Debug("task "+action, "task_id", rec.ID, "source", rec.Source)

	h.send(MessageTypeTaskUpdate, TaskUpdateData{
		TaskID:    rec.ID,
		Action:    action,
		Status:    rec.Status,
		Title:     rec.Title,
		Priority:  rec.Priority,
		Source:    rec.Source,
		UpdatedAt: rec.UpdatedAt,
	})
}

// PushCompleted broadcasts a sync_complete and schedules a stats refresh.
func (h *Handler) PushCompleted(source schema.Source, result *sync.PushResult) {
	data := SyncCompleteData{
		Source:    source,
		Synced:    result.Synced,
		Conflicts: len(result.Conflicts),
		Errors:    len(result.Errors),
	}
	if result.Cursor != nil {
		data.SyncCount = result.Cursor.SyncCount
	}

	h.send(MessageTypeSyncComplete, data)
	h.requestRefresh()
}

// DataCleared broadcasts a sync_cleared and schedules a stats refresh.
func (h *Handler) DataCleared(source schema.Source, result *sync.ClearResult) {
	h.send(MessageTypeSyncCleared, ClearedData{
		Source:         source,
		DeletedTasks:   result.DeletedTasks,
		DeletedCursors: result.DeletedCursors,
	})
	h.requestRefresh()
}

func (h *Handler) send(typ MessageType, data interface{}) {
	msg, err := NewMessage(typ, data)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", typ, "error", err)
		return
	}
	h.hub.Broadcast(msg)
}

func (h *Handler) requestRefresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
		// a refresh is already pending
	}
}

// Stats computes the current statistics.
func (h *Handler) Stats(ctx context.Context) (StatsData, error) {
	stats := StatsData{BySource: make(map[schema.Source]SourceStat)}
	if h.counter == nil {
		return stats, nil
	}

	counts, err := h.counter.CountBySource(ctx)
	if err != nil {
		return stats, err
	}
	for _, c := range counts {
		stats.Total += c.Total
		stats.Completed += c.Completed
		stats.BySource[c.Source] = SourceStat{
			Total:       c.Total,
			Completed:   c.Completed,
			LastUpdated: c.LastUpdated,
		}
	}
	return stats, nil
}

func (h *Handler) statsMessage(ctx context.Context) (Message, error) {
	stats, err := h.Stats(ctx)
	if err != nil {
		return Message{}, err
	}
	return NewMessage(MessageTypeStats, stats)
}
