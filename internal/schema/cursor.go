package schema

import "time"

// SyncCursor is the per-source watermark kept by the cursor registry.
type SyncCursor struct {
	Source     Source    `json:"source" yaml:"source"`
	LastSyncAt time.Time `json:"lastSyncAt" yaml:"lastSyncAt"`
	SyncCount  int64     `json:"syncCount" yaml:"syncCount"`
}

// SyncStatus is the client-local lifecycle tag of a record. The server never
// treats it as authoritative.
type SyncStatus string

const (
	SyncStatusLocal    SyncStatus = "local"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncEvent drives SyncStatus transitions on a client.
type SyncEvent string

const (
	// EventQueued marks a local record as scheduled for the next push.
	EventQueued SyncEvent = "queued"
	// EventAccepted means the store applied the pushed record.
	EventAccepted SyncEvent = "accepted"
	// EventRejected means the resolver kept the server version.
	EventRejected SyncEvent = "rejected"
	// EventEdited is any local modification of the record.
	EventEdited SyncEvent = "edited"
)

// Next returns the status after ev. Transitions that make no sense for the
// current status leave it unchanged.
//
//	local --queued--> pending --accepted--> synced
//	pending --rejected--> conflict
//	synced|conflict --edited--> pending
func (s SyncStatus) Next(ev SyncEvent) SyncStatus {
	switch ev {
	case EventEdited:
		if s == "" {
			return SyncStatusLocal
		}
		if s == SyncStatusLocal {
			return s
		}
		return SyncStatusPending
	case EventQueued:
		if s == "" || s == SyncStatusLocal {
			return SyncStatusPending
		}
	case EventAccepted:
		if s == SyncStatusPending {
			return SyncStatusSynced
		}
	case EventRejected:
		if s == SyncStatusPending {
			return SyncStatusConflict
		}
	}
	return s
}
