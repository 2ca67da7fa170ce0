package fsbridge

import (
	"context"

	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// DeleteLocal tombstones canonicalPath's metadata and removes it from its
// parent's contents list, then removes the file from disk (spec §4.6 "On
// delete, it tombstones the metadata and removes the deleted path from
// its parent's contents").
func (b *Bridge) DeleteLocal(ctx context.Context, canonicalPath string) error {
	if IsTempFile(canonicalPath) {
		return b.fs.Remove(canonicalPath)
	}
	if b.markLocal(canonicalPath) {
		return b.fs.Remove(canonicalPath)
	}
	defer b.clearLocal(canonicalPath)

	b.tombstone(canonicalPath)

	return b.fs.Remove(canonicalPath)
}

// deleteLocalMetadataOnly tombstones canonicalPath's metadata without
// touching disk, for callers (the fsnotify watch loop) where the file is
// already gone and the local-write guard has already been applied by the
// caller.
func (b *Bridge) deleteLocalMetadataOnly(canonicalPath string) error {
	b.tombstone(canonicalPath)
	return nil
}

func (b *Bridge) tombstone(canonicalPath string) {
	ws := b.sync.Workspace()
	docID, ok := b.canonicalDocID(ws, canonicalPath)
	if !ok {
		return
	}
	now := b.nowMillis()
	if meta, ok := ws.GetFile(docID); ok && meta.PartOf != "" {
		b.removeFromParentContents(ws, meta.PartOf, docID, now)
	}
	ws.DeleteFile(docID, now)
}

// MoveLocal relocates oldPath to newPath. It distinguishes rename (same
// parent directory) from move (different parent) only insofar as both
// update the existing identifier under ModeDocID; under
// ModeLegacyPathKey it always uses delete+create semantics so a stale
// body doc cannot bleed into an unrelated new owner of the destination
// path key (spec §4.6).
func (b *Bridge) MoveLocal(ctx context.Context, oldPath, newPath string) error {
	if IsTempFile(oldPath) || IsTempFile(newPath) {
		return b.fs.Rename(oldPath, newPath)
	}

	fromSyncOld := b.markLocal(oldPath)
	fromSyncNew := b.markLocal(newPath)
	if fromSyncOld || fromSyncNew {
		return b.fs.Rename(oldPath, newPath)
	}
	defer b.clearLocal(oldPath)
	defer b.clearLocal(newPath)

	if err := b.fs.Rename(oldPath, newPath); err != nil {
		return err
	}

	ws := b.sync.Workspace()
	now := b.nowMillis()

	if b.mode == ModeLegacyPathKey {
		return b.moveLegacy(ctx, ws, oldPath, newPath, now)
	}
	return b.moveDocID(ctx, ws, oldPath, newPath, now)
}

func (b *Bridge) moveDocID(ctx context.Context, ws *workspace.Document, oldPath, newPath string, now int64) error {
	docID, ok := ws.FindByPath(oldPath)
	if !ok {
		return nil
	}

	newFilename := basename(newPath)
	newParentPath := dirname(newPath)
	oldParentPath := dirname(oldPath)

	if newParentPath != oldParentPath {
		newParentID := b.canonicalPathToDocID(ws, newParentPath)
		oldParentID := b.canonicalPathToDocID(ws, oldParentPath)
		ws.MoveFile(docID, newParentID, now)
		if oldParentID != "" {
			b.removeFromParentContents(ws, oldParentID, docID, now)
		}
		if newParentID != "" {
			b.addToParentContents(ws, newParentID, docID, now)
		}
	}
	ws.RenameFile(docID, newFilename, now)

	b.sync.Bodies().Rename(bodyDocName(b.sync.WorkspaceID(), oldPath), bodyDocName(b.sync.WorkspaceID(), newPath))
	return nil
}

func (b *Bridge) moveLegacy(ctx context.Context, ws *workspace.Document, oldPath, newPath string, now int64) error {
	oldMeta, ok := ws.GetFile(oldPath)
	if !ok {
		return nil
	}
	ws.DeleteFile(oldPath, now)

	newMeta := oldMeta
	newMeta.DocID = newPath
	newMeta.Filename = basename(newPath)
	newMeta.Deleted = false
	newMeta.ModifiedAt = now
	ws.SetFile(newMeta)

	// A stale body doc at the destination path key (left by some unrelated
	// prior owner of that key) must not bleed into the moved file.
	b.sync.Bodies().Drop(bodyDocName(b.sync.WorkspaceID(), newPath))
	b.sync.Bodies().Rename(bodyDocName(b.sync.WorkspaceID(), oldPath), bodyDocName(b.sync.WorkspaceID(), newPath))
	return nil
}

func (b *Bridge) removeFromParentContents(ws *workspace.Document, parentID, childID string, now int64) {
	parent, ok := ws.GetFile(parentID)
	if !ok {
		return
	}
	filtered := make([]string, 0, len(parent.Contents))
	for _, c := range parent.Contents {
		if c != childID {
			filtered = append(filtered, c)
		}
	}
	ws.SetContents(parentID, filtered, now)
}

func (b *Bridge) canonicalDocID(ws *workspace.Document, canonicalPath string) (string, bool) {
	if b.mode == ModeLegacyPathKey {
		_, ok := ws.GetFile(canonicalPath)
		return canonicalPath, ok
	}
	return ws.FindByPath(canonicalPath)
}

func basename(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

func dirname(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return ""
}
