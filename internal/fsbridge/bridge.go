package fsbridge

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/diaryx-dev/diaryx-sync/internal/frontmatter"
	"github.com/diaryx-dev/diaryx-sync/internal/syncmanager"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// Mode selects how a file's document identifier relates to its path (spec
// §4.6).
type Mode int

const (
	// ModeDocID assigns a stable identifier on first creation and
	// preserves it across renames and moves — history survives.
	ModeDocID Mode = iota
	// ModeLegacyPathKey uses the canonical path itself as the document
	// identifier; a move is delete+create under the hood.
	ModeLegacyPathKey
)

// tempSuffixes lists extensions skipped entirely so editor/writer
// internals never pollute the CRDT (spec §4.6).
var tempSuffixes = []string{".tmp", ".bak"}

// IsTempFile reports whether path matches one of the skipped temp-file
// suffixes.
func IsTempFile(p string) bool {
	for _, suf := range tempSuffixes {
		if strings.HasSuffix(p, suf) {
			return true
		}
	}
	return false
}

// LinkFormatLookup resolves the link_format declared by the nearest
// ancestor index file of path, nearest first. Supplied by the host, which
// knows how an "index file" is located in its on-disk layout.
type LinkFormatLookup func(path string) []string

// Bridge wraps fs and keeps it consistent with a syncmanager.Manager's
// workspace and body documents (spec §4.6).
type Bridge struct {
	mu sync.Mutex

	fs          Filesystem
	sync        *syncmanager.Manager
	mode        Mode
	ancestorFmt LinkFormatLookup
	logger      *slog.Logger
	nowMillis   func() int64

	localWrites map[string]struct{}
	syncWrites  map[string]struct{}
}

// New creates a Bridge. ancestorFmt may be nil (treated as "no ancestor
// declares a link format").
func New(fs Filesystem, sm *syncmanager.Manager, mode Mode, ancestorFmt LinkFormatLookup, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if ancestorFmt == nil {
		ancestorFmt = func(string) []string { return nil }
	}
	return &Bridge{
		fs:          fs,
		sync:        sm,
		mode:        mode,
		ancestorFmt: ancestorFmt,
		logger:      logger,
		nowMillis:   func() int64 { return time.Now().UnixMilli() },
		localWrites: map[string]struct{}{},
		syncWrites:  map[string]struct{}{},
	}
}

func (b *Bridge) markLocal(path string) (alreadySyncWrite bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.syncWrites[path]; ok {
		delete(b.syncWrites, path)
		return true
	}
	b.localWrites[path] = struct{}{}
	return false
}

func (b *Bridge) clearLocal(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.localWrites, path)
}

// WriteLocal is the entry point for a local edit: write the file, then (a)
// extract frontmatter/body, and (b) upsert into the workspace metadata
// document and the file's body document (spec §4.6 steps a–c; here the
// inner write is (b) and the CRDT update is (c)).
func (b *Bridge) WriteLocal(ctx context.Context, canonicalPath string, content []byte) error {
	if IsTempFile(canonicalPath) {
		return b.fs.WriteFile(canonicalPath, content)
	}

	if b.markLocal(canonicalPath) {
		// This write originated from the sync handler; the CRDT already
		// reflects it, so only the disk needs updating.
		return b.fs.WriteFile(canonicalPath, content)
	}
	defer b.clearLocal(canonicalPath)

	if err := b.fs.WriteFile(canonicalPath, content); err != nil {
		return err
	}

	return b.applyLocalContent(ctx, canonicalPath, content)
}

func (b *Bridge) applyLocalContent(ctx context.Context, canonicalPath string, content []byte) error {
	parsed, err := frontmatter.Parse(string(content))
	if err != nil {
		b.logger.Warn("fsbridge: parsing frontmatter failed", "path", canonicalPath, "error", err)
		return err
	}

	format := frontmatter.DetectLinkFormat(parsed.LinkFormat, b.ancestorFmt(canonicalPath))
	partOf := ""
	if parsed.PartOf != "" {
		partOf = frontmatter.Canonicalize(parsed.PartOf, canonicalPath, format)
	}
	contents := make([]string, 0, len(parsed.Contents))
	for _, c := range parsed.Contents {
		contents = append(contents, frontmatter.Canonicalize(c, canonicalPath, format))
	}

	ws := b.sync.Workspace()
	now := b.nowMillis()

	docID, existed := b.resolveDocID(ws, canonicalPath)

	var existingMeta workspace.FileMetadata
	if existed {
		existingMeta, _ = ws.GetFile(docID)
	}

	partOfID := b.canonicalPathToDocID(ws, partOf)
	contentIDs := make([]string, 0, len(contents))
	for _, c := range contents {
		contentIDs = append(contentIDs, b.canonicalPathToDocID(ws, c))
	}

	meta := workspace.FileMetadata{
		DocID:       docID,
		Filename:    path.Base(canonicalPath),
		Title:       parsed.Title,
		Description: parsed.Description,
		PartOf:      partOfID,
		Contents:    contentIDs,
		Attachments: mergeAttachments(existingMeta.Attachments, convertAttachments(parsed.Attachments)),
		Audience:    parsed.Audience,
		Extra:       parsed.Extra,
		ModifiedAt:  now,
	}
	ws.SetFile(meta)

	if partOfID != "" {
		b.addToParentContents(ws, partOfID, docID, now)
	}

	doc, err := b.sync.Bodies().Get(ctx, bodyDocName(b.sync.WorkspaceID(), canonicalPath))
	if err != nil {
		return err
	}
	doc.SetBody(parsed.Body)

	return nil
}

// resolveDocID returns the document identifier for canonicalPath,
// creating one if this is the first time the path has been seen, per the
// active Mode.
func (b *Bridge) resolveDocID(ws *workspace.Document, canonicalPath string) (docID string, existed bool) {
	if b.mode == ModeLegacyPathKey {
		if _, ok := ws.GetFile(canonicalPath); ok {
			return canonicalPath, true
		}
		return canonicalPath, false
	}

	if id, ok := ws.FindByPath(canonicalPath); ok {
		return id, true
	}
	return ws.CreateFile(workspace.FileMetadata{Filename: path.Base(canonicalPath)}), false
}

func (b *Bridge) canonicalPathToDocID(ws *workspace.Document, canonicalPath string) string {
	if canonicalPath == "" {
		return ""
	}
	if b.mode == ModeLegacyPathKey {
		return canonicalPath
	}
	if id, ok := ws.FindByPath(canonicalPath); ok {
		return id
	}
	return ""
}

func (b *Bridge) addToParentContents(ws *workspace.Document, parentID, childID string, now int64) {
	parent, ok := ws.GetFile(parentID)
	if !ok {
		return
	}
	for _, existing := range parent.Contents {
		if existing == childID {
			return
		}
	}
	ws.SetContents(parentID, append(append([]string{}, parent.Contents...), childID), now)
}

// convertAttachments maps parsed frontmatter attachments onto the
// workspace CRDT's BinaryRef shape.
func convertAttachments(in []frontmatter.Attachment) []workspace.BinaryRef {
	out := make([]workspace.BinaryRef, 0, len(in))
	for _, a := range in {
		out = append(out, workspace.BinaryRef{
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

// mergeAttachments preserves richer BinaryRef fields already present in
// the CRDT when the incoming frontmatter parse produced an empty hash —
// the common case where a UI attached a BinaryRef through a separate
// channel before the markdown was re-saved (spec §4.6).
func mergeAttachments(existing, incoming []workspace.BinaryRef) []workspace.BinaryRef {
	byPath := make(map[string]workspace.BinaryRef, len(existing))
	for _, e := range existing {
		byPath[e.Path] = e
	}

	out := make([]workspace.BinaryRef, 0, len(incoming))
	for _, in := range incoming {
		if in.Hash == "" {
			if prior, ok := byPath[in.Path]; ok && prior.Hash != "" {
				in.Hash = prior.Hash
				in.MimeType = prior.MimeType
				in.Size = prior.Size
				in.UploadedAt = prior.UploadedAt
			}
		}
		out = append(out, in)
	}
	return out
}

func bodyDocName(workspaceID, canonicalPath string) string {
	return "body:" + workspaceID + "/" + canonicalPath
}
