package fsbridge

import (
	"github.com/diaryx-dev/diaryx-sync/internal/frontmatter"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// MarkSyncWrite implements syncmanager.SyncHandler: it records path as
// being written by the sync path so the next WriteLocal/DeleteLocal/
// MoveLocal call through the decorator's own local-write entry points
// skips its CRDT update (the update already came from the network).
func (b *Bridge) MarkSyncWrite(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncWrites[path] = struct{}{}
}

// WriteFile implements syncmanager.SyncHandler by reconstituting path from
// meta and body and writing it straight through the inner filesystem,
// bypassing CRDT re-derivation (the caller already applied the update).
func (b *Bridge) WriteFile(path string, meta workspace.FileMetadata, body string) error {
	ws := b.sync.Workspace()

	partOf := ""
	if meta.PartOf != "" {
		if p, ok := ws.CanonicalPathFor(meta.PartOf); ok {
			partOf = p
		}
	}
	contents := make([]string, 0, len(meta.Contents))
	for _, childID := range meta.Contents {
		if p, ok := ws.CanonicalPathFor(childID); ok {
			contents = append(contents, p)
		}
	}

	parsed := frontmatter.Parsed{
		Title:       meta.Title,
		Description: meta.Description,
		PartOf:      partOf,
		Contents:    contents,
		Attachments: convertAttachmentsBack(meta.Attachments),
		Audience:    meta.Audience,
		Extra:       meta.Extra,
		Body:        body,
	}

	content, err := frontmatter.Serialize(parsed)
	if err != nil {
		return err
	}
	return b.fs.WriteFile(path, []byte(content))
}

func convertAttachmentsBack(in []workspace.BinaryRef) []frontmatter.Attachment {
	out := make([]frontmatter.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, frontmatter.Attachment{
			Path:       a.Path,
			Source:     a.Source,
			Hash:       a.Hash,
			MimeType:   a.MimeType,
			Size:       a.Size,
			UploadedAt: a.UploadedAt,
			Deleted:    a.Deleted,
		})
	}
	return out
}

// RemoveFile implements syncmanager.SyncHandler.
func (b *Bridge) RemoveFile(path string) error {
	return b.fs.Remove(path)
}

// MoveFile implements syncmanager.SyncHandler.
func (b *Bridge) MoveFile(oldPath, newPath string) error {
	return b.fs.Rename(oldPath, newPath)
}
