// Package sync reconciles task records pushed by independent clients against
// the authoritative store.
//
// # Architecture
//
// Clients (the vault plugin, the browser extension) edit tasks offline and
// later exchange them with the server:
//
//	client --push--> Service.Push --> Resolver --> storage.Store
//	                              \--> Registry (one cursor touch per batch)
//	client <--pull-- Service.Pull <-- storage.Store (newest first, capped)
//
// # Conflict Resolution
//
// Whole records are compared by updatedAt (last write wins). A stored record
// that is strictly newer is kept and the push reports a conflict with
// resolution "server_wins". Equal timestamps are settled by the configured
// TiePolicy. Pushing the same record twice is a no-op.
//
// # Echo Suppression
//
// A pull names the pulling source and receives only records last written by
// some other source, so clients never see their own writes come back.
//
// # Concurrency
//
// Records in a batch are processed in parallel up to Config.Concurrency.
// Work on a single id is serialized with a keylock, and the storage layer
// refuses writes older than what it holds, so the newest version survives
// even when several server processes share a database.
//
// # Error Handling
//
// Request-level problems are *ValidationError. A record that cannot be
// decoded, validated or stored is reported in PushResult.Errors while the
// rest of the batch continues. An unreachable backend fails the whole
// operation with storage.ErrUnavailable.
package sync
