package snapshot

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/diaryx-dev/diaryx-sync/internal/attachment"
	"github.com/diaryx-dev/diaryx-sync/internal/frontmatter"
	"github.com/diaryx-dev/diaryx-sync/internal/store"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// ImportMode selects how an import reconciles with the workspace's
// existing files (spec §4.7).
type ImportMode int

const (
	// ModeReplace clears file_index and tombstones every existing file
	// before importing.
	ModeReplace ImportMode = iota
	// ModeMerge leaves existing files untouched except where the import
	// overwrites the same canonical path.
	ModeMerge
)

// ImportSnapshotZip imports zipBytes into the workspace as userID (spec
// §4.7 import_snapshot_zip). tierLimit is userID's attachment quota tier;
// ignored when includeAttachments is false or the archive carries no
// binary entries.
func (e *Engine) ImportSnapshotZip(ctx context.Context, userID string, zipBytes []byte, mode ImportMode, includeAttachments bool, tierLimit int64, now int64) error {
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return fmt.Errorf("snapshot: reading zip archive: %w", err)
	}

	binaries := map[string]*zip.File{} // hash -> entry, enumerated first per spec order
	markdownFiles := []*zip.File{}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if hash, ok := isAttachmentEntry(f.Name); ok {
			binaries[hash] = f
			continue
		}
		markdownFiles = append(markdownFiles, f)
	}

	uploadMap, err := e.commitBinaries(ctx, userID, binaries, includeAttachments, tierLimit, now)
	if err != nil {
		return err
	}

	if mode == ModeReplace {
		e.tombstoneAllActive(now)
		if e.index != nil {
			if err := e.index.ClearFileIndex(ctx); err != nil {
				return fmt.Errorf("snapshot: clearing file_index for replace import: %w", err)
			}
		}
	}

	var newRefs []attachment.WorkspaceAttachmentRef
	for _, f := range markdownFiles {
		refs, err := e.importMarkdownEntry(ctx, f, uploadMap, userID, now)
		if err != nil {
			return fmt.Errorf("snapshot: importing %s: %w", f.Name, err)
		}
		newRefs = append(newRefs, refs...)
	}

	if e.ledger != nil {
		if err := e.ledger.ReplaceWorkspaceAttachmentRefs(ctx, e.workspaceID, newRefs, now); err != nil {
			return fmt.Errorf("snapshot: replacing attachment refs: %w", err)
		}
	}

	return nil
}

// uploaded describes one binary entry's committed identity.
type uploaded struct {
	Hash     string
	Size     int64
	MimeType string
}

// commitBinaries enumerates every unique binary entry, recomputes its hash
// and size from the entry's actual content (spec §4.7 "Enumerate binary
// entries first; compute hash and size" — never trusted from the claimed
// entry name, the same way pipeline.Complete rehashes a completed upload
// before storing it under a content-addressed key), enforces the importing
// user's quota against the net-new bytes, and uploads the unique set to the
// blob store keyed by the computed hash.
func (e *Engine) commitBinaries(ctx context.Context, userID string, binaries map[string]*zip.File, includeAttachments bool, tierLimit int64, now int64) (map[string]uploaded, error) {
	result := make(map[string]uploaded, len(binaries))
	if !includeAttachments || len(binaries) == 0 {
		return result, nil
	}
	if e.ledger == nil || e.blobs == nil {
		return nil, fmt.Errorf("snapshot: attachment import requested but no ledger/blob client configured")
	}

	// claimedHash is only a lookup convenience (the attachments/ entry
	// name); it is never used as the storage key. hashEntry recomputes the
	// real content hash for each entry up front so quota accounting and
	// blob storage both key off content, not the filename.
	type entry struct {
		file *zip.File
		hash string
		size int64
	}
	entries := make(map[string]entry, len(binaries))
	for claimedHash, f := range binaries {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("snapshot: opening attachment entry %s: %w", claimedHash, err)
		}
		hash, size, err := attachment.HashReader(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("snapshot: hashing attachment entry %s: %w", claimedHash, err)
		}
		entries[claimedHash] = entry{file: f, hash: hash, size: size}
	}

	hashBytes := make(map[string]int64, len(entries))
	for _, en := range entries {
		hashBytes[en.hash] = en.size
	}

	netNew, err := e.ledger.NetNewBytes(ctx, userID, hashBytes)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.CheckQuota(ctx, userID, tierLimit, netNew); err != nil {
		return nil, err
	}

	for claimedHash, en := range entries {
		rc, err := en.file.Open()
		if err != nil {
			return nil, fmt.Errorf("snapshot: reopening attachment entry %s: %w", claimedHash, err)
		}
		mimeType := mimeTypeFromName(en.file.Name)
		if err := e.blobs.PutObject(ctx, en.hash, rc, en.size, mimeType); err != nil {
			rc.Close()
			return nil, fmt.Errorf("snapshot: uploading attachment %s: %w", en.hash, err)
		}
		rc.Close()

		if err := e.ledger.UpsertBlob(ctx, nil, userID, en.hash, en.size, mimeType, now); err != nil {
			return nil, err
		}
		result[claimedHash] = uploaded{Hash: en.hash, Size: en.size, MimeType: mimeType}
	}
	return result, nil
}

func (e *Engine) tombstoneAllActive(now int64) {
	for _, meta := range e.ws.ListActiveFiles() {
		e.ws.DeleteFile(meta.DocID, now)
	}
}

func (e *Engine) importMarkdownEntry(ctx context.Context, f *zip.File, uploadMap map[string]uploaded, userID string, now int64) ([]attachment.WorkspaceAttachmentRef, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, err
	}

	parsed, err := frontmatter.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}

	canonicalPath := f.Name
	docID := e.resolveImportDocID(canonicalPath)

	partOfID := e.canonicalPathToDocID(parsed.PartOf)
	contentIDs := make([]string, 0, len(parsed.Contents))
	for _, c := range parsed.Contents {
		contentIDs = append(contentIDs, e.canonicalPathToDocID(c))
	}

	attachments := make([]workspace.BinaryRef, 0, len(parsed.Attachments))
	var refs []attachment.WorkspaceAttachmentRef
	for _, a := range parsed.Attachments {
		hash, size, mimeType := a.Hash, a.Size, a.MimeType
		if up, ok := uploadMap[a.Hash]; ok {
			hash, size, mimeType = up.Hash, up.Size, up.MimeType
		}
		attachments = append(attachments, workspace.BinaryRef{
			Path: a.Path, Source: a.Source, Hash: hash, MimeType: mimeType,
			Size: size, UploadedAt: now, Deleted: a.Deleted,
		})
		if hash != "" && !a.Deleted {
			refs = append(refs, attachment.WorkspaceAttachmentRef{
				WorkspaceID: e.workspaceID, Path: canonicalPath, Hash: hash, UserID: userID,
			})
		}
	}

	meta := workspace.FileMetadata{
		DocID:       docID,
		Filename:    path.Base(canonicalPath),
		Title:       parsed.Title,
		Description: parsed.Description,
		PartOf:      partOfID,
		Contents:    contentIDs,
		Attachments: attachments,
		Audience:    parsed.Audience,
		Extra:       parsed.Extra,
		ModifiedAt:  now,
	}
	e.ws.SetFile(meta)

	if e.index != nil {
		partOfPath := ""
		if partOfID != "" {
			if p, ok := e.ws.CanonicalPathFor(partOfID); ok {
				partOfPath = p
			}
		}
		entry := store.FileIndexEntry{
			Path: canonicalPath, DocID: docID, Title: meta.Title,
			PartOf: partOfPath, ModifiedAt: now,
		}
		if err := e.index.UpsertFileIndex(ctx, entry); err != nil {
			return nil, fmt.Errorf("snapshot: updating file_index for %s: %w", canonicalPath, err)
		}
	}

	doc, err := e.bodies.Get(ctx, bodyDocName(e.workspaceID, canonicalPath))
	if err != nil {
		return nil, err
	}
	doc.SetBody(parsed.Body)

	return refs, nil
}

func (e *Engine) resolveImportDocID(canonicalPath string) string {
	if id, ok := e.ws.FindByPath(canonicalPath); ok {
		return id
	}
	return e.ws.CreateFile(workspace.FileMetadata{Filename: path.Base(canonicalPath)})
}

func (e *Engine) canonicalPathToDocID(canonicalPath string) string {
	if canonicalPath == "" {
		return ""
	}
	if id, ok := e.ws.FindByPath(canonicalPath); ok {
		return id
	}
	return ""
}

func mimeTypeFromName(name string) string {
	switch {
	case hasAnySuffix(name, ".png"):
		return "image/png"
	case hasAnySuffix(name, ".jpg", ".jpeg"):
		return "image/jpeg"
	case hasAnySuffix(name, ".gif"):
		return "image/gif"
	case hasAnySuffix(name, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}
