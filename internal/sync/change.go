// Package sync keeps remote sandbox file trees eventually consistent
// with local workspace directories.
//
// One Session per workspace root watches local file events, coalesces
// them per path, and pushes batched delete and write operations to
// the workspace's sandbox worker. Sync is one-directional
// (local to remote), last-writer-wins per path, with at-least-once
// delivery: a failed batch is retried in full, never partially.
package sync

// Change is the kind of pending change recorded for a path. Only the
// most recent change per path is kept; the engine transmits end
// state, not an event log.
type Change int

const (
	// Upsert uploads the file's content as it exists at flush time.
	Upsert Change = iota
	// Delete removes the path on the remote side.
	Delete
)

func (c Change) String() string {
	switch c {
	case Upsert:
		return "upsert"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}
