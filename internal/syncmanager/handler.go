package syncmanager

import "github.com/diaryx-dev/diaryx-sync/internal/workspace"

// SyncHandler is the filesystem bridge's write-path, consulted by the sync
// manager when write_to_disk is requested (spec §4.5: "the sync handler
// marks each target path as a sync-write to block the CRDT decorator's
// feedback loop"). Implemented by *fsbridge.Bridge.
type SyncHandler interface {
	// MarkSyncWrite records path as being written by the sync path so the
	// filesystem decorator suppresses the resulting CRDT feedback update.
	MarkSyncWrite(path string)

	// WriteFile reconstitutes path on disk from meta and body.
	WriteFile(path string, meta workspace.FileMetadata, body string) error

	// RemoveFile deletes path from disk (used for a tombstoned file).
	RemoveFile(path string) error

	// MoveFile relocates a file on disk from oldPath to newPath.
	MoveFile(oldPath, newPath string) error
}
