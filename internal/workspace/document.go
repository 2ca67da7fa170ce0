package workspace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

// OnUpdate is invoked with the outgoing delta whenever a local mutation
// changes the workspace document (spec §2 data flow: "upserts into
// workspace metadata doc ... observer fires ... sync manager encodes
// delta"). Mirrors bodydoc.OnUpdate; wired by the sync manager.
type OnUpdate func(update []byte)

// Document is the one CRDT per workspace covering every file's metadata
// (spec §4.2). It is a thin, field-aware façade over crdt.LWWMap: every
// FileMetadata field is its own LWW register, keyed by
// "<docID>\x00<field>", so concurrent edits to distinct fields of the same
// file never clobber one another.
type Document struct {
	m        *crdt.LWWMap
	onUpdate OnUpdate
}

// New creates an empty workspace document owned by actor.
func New(actor crdt.ActorID) *Document {
	return &Document{m: crdt.NewLWWMap(actor)}
}

// SetOnUpdate wires the observer invoked after every local mutation that
// produces a non-empty delta. Replaying persisted updates at load time
// does not go through these mutation methods, so it never triggers it.
func (d *Document) SetOnUpdate(cb OnUpdate) { d.onUpdate = cb }

// emit must be called after a mutation completes, with the state vector
// captured immediately before it.
func (d *Document) emit(before []byte) {
	if d.onUpdate == nil {
		return
	}
	diff, err := d.m.EncodeDiff(before)
	if err != nil || len(diff) <= crdt.EmptyUpdateSentinelLen {
		return
	}
	d.onUpdate(diff)
}

// Underlying exposes the backing LWWMap for the update store's replay path
// and the sync manager's encode/apply plumbing.
func (d *Document) Underlying() *crdt.LWWMap { return d.m }

// Actor returns the replica identifier this document assigns to its own
// local writes.
func (d *Document) Actor() crdt.ActorID { return d.m.Actor() }

func compoundKey(docID, field string) string {
	return docID + "\x00" + field
}

func splitCompoundKey(key string) (docID, field string, ok bool) {
	i := strings.IndexByte(key, 0)
	if i < 0 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

func (d *Document) setJSON(docID, field string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		// Fields are always simple JSON-safe values (strings, slices,
		// map[string]any); a marshal failure here is a programmer error.
		panic(fmt.Sprintf("workspace: marshaling %s.%s: %v", docID, field, err))
	}
	d.m.Set(compoundKey(docID, field), b)
}

func (d *Document) getJSON(docID, field string, out any) bool {
	b, ok := d.m.Get(compoundKey(docID, field))
	if !ok || b == nil {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false
	}
	return true
}

// CreateFile generates a fresh document identifier, stores meta under it,
// and returns the identifier (spec §4.2 create_file, §3 "a document
// identifier is unique per workspace and never reused").
func (d *Document) CreateFile(meta FileMetadata) string {
	docID := uuid.NewString()
	meta.DocID = docID
	d.SetFile(meta)
	return docID
}

// SetFile writes every field of meta. Used both for CreateFile and for a
// full upsert from the filesystem bridge after parsing frontmatter.
func (d *Document) SetFile(meta FileMetadata) {
	before := d.m.EncodeStateVector()
	defer d.emit(before)

	docID := meta.DocID
	d.setJSON(docID, fieldFilename, meta.Filename)
	d.setJSON(docID, fieldTitle, meta.Title)
	d.setJSON(docID, fieldDescription, meta.Description)
	d.setJSON(docID, fieldPartOf, meta.PartOf)
	d.setJSON(docID, fieldContents, meta.Contents)
	d.setJSON(docID, fieldAttachments, meta.Attachments)
	d.setJSON(docID, fieldAudience, meta.Audience)
	d.setJSON(docID, fieldDeleted, meta.Deleted)
	if meta.Extra == nil {
		meta.Extra = map[string]any{}
	}
	d.setJSON(docID, fieldExtra, meta.Extra)
	d.setJSON(docID, fieldModifiedAt, meta.ModifiedAt)
}

// GetFile reconstructs the FileMetadata for docID. ok is false if the
// document has never been written (no filename field present).
func (d *Document) GetFile(docID string) (FileMetadata, bool) {
	var filename string
	if !d.getJSON(docID, fieldFilename, &filename) {
		return FileMetadata{}, false
	}

	meta := FileMetadata{DocID: docID, Filename: filename}
	d.getJSON(docID, fieldTitle, &meta.Title)
	d.getJSON(docID, fieldDescription, &meta.Description)
	d.getJSON(docID, fieldPartOf, &meta.PartOf)
	d.getJSON(docID, fieldContents, &meta.Contents)
	d.getJSON(docID, fieldAttachments, &meta.Attachments)
	d.getJSON(docID, fieldAudience, &meta.Audience)
	d.getJSON(docID, fieldDeleted, &meta.Deleted)
	d.getJSON(docID, fieldExtra, &meta.Extra)
	d.getJSON(docID, fieldModifiedAt, &meta.ModifiedAt)
	return meta, true
}

// DeleteFile tombstones docID. A deleted file never transitions back to
// live automatically (spec §3).
func (d *Document) DeleteFile(docID string, modifiedAt int64) {
	before := d.m.EncodeStateVector()
	defer d.emit(before)

	d.setJSON(docID, fieldDeleted, true)
	d.setJSON(docID, fieldModifiedAt, modifiedAt)
}

// RenameFile updates docID's filename only (spec §4.2 rename_file).
func (d *Document) RenameFile(docID, newFilename string, modifiedAt int64) {
	before := d.m.EncodeStateVector()
	defer d.emit(before)

	d.setJSON(docID, fieldFilename, newFilename)
	d.setJSON(docID, fieldModifiedAt, modifiedAt)
}

// MoveFile updates docID's parent only (spec §4.2 move_file).
func (d *Document) MoveFile(docID, newPartOf string, modifiedAt int64) {
	before := d.m.EncodeStateVector()
	defer d.emit(before)

	d.setJSON(docID, fieldPartOf, newPartOf)
	d.setJSON(docID, fieldModifiedAt, modifiedAt)
}

// SetContents overwrites the ordered child list of a parent document,
// normally used by the filesystem bridge to add/remove a child after a
// create, move, or delete (spec §4.6).
func (d *Document) SetContents(docID string, contents []string, modifiedAt int64) {
	before := d.m.EncodeStateVector()
	defer d.emit(before)

	d.setJSON(docID, fieldContents, contents)
	d.setJSON(docID, fieldModifiedAt, modifiedAt)
}

// allDocIDs scans every compound key and returns the distinct document
// identifiers referenced (spec §9: "the reverse is reconstructed by scan
// where needed").
func (d *Document) allDocIDs() map[string]struct{} {
	ids := map[string]struct{}{}
	for _, k := range d.m.Keys() {
		docID, _, ok := splitCompoundKey(k)
		if ok {
			ids[docID] = struct{}{}
		}
	}
	return ids
}

// CanonicalPathFor walks the part_of chain from docID up to a file with no
// parent, joining filenames with "/" (spec glossary "Canonical path").
// Returns ok=false if docID has never been written, or a cycle prevents
// resolution (defensive guard; cycles are forward-edge-only by
// construction — see spec §9 — but a malformed remote update could still
// attempt one).
func (d *Document) CanonicalPathFor(docID string) (string, bool) {
	meta, ok := d.GetFile(docID)
	if !ok {
		return "", false
	}

	parts := []string{meta.Filename}
	seen := map[string]bool{docID: true}
	cur := meta.PartOf

	for cur != "" {
		if seen[cur] {
			break // cycle guard
		}
		seen[cur] = true

		parent, ok := d.GetFile(cur)
		if !ok {
			break
		}
		parts = append([]string{parent.Filename}, parts...)
		cur = parent.PartOf
	}

	return strings.Join(parts, pathSeparator), true
}

// FindByPath returns the document identifier whose canonical path equals
// path, if any (spec §4.2 find_by_path). O(n) in the number of tracked
// documents — acceptable for a single workspace's metadata set.
func (d *Document) FindByPath(path string) (string, bool) {
	for docID := range d.allDocIDs() {
		p, ok := d.CanonicalPathFor(docID)
		if ok && p == path {
			return docID, true
		}
	}
	return "", false
}

// ListFiles returns every tracked document, tombstones included.
func (d *Document) ListFiles() []FileMetadata {
	ids := d.allDocIDs()
	out := make([]FileMetadata, 0, len(ids))
	for docID := range ids {
		if meta, ok := d.GetFile(docID); ok {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out
}

// ListActiveFiles returns every non-tombstoned document (spec §4.2
// list_active_files).
func (d *Document) ListActiveFiles() []FileMetadata {
	all := d.ListFiles()
	out := all[:0:0]
	for _, m := range all {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

// FileCount returns the number of tracked documents, tombstones included
// (matches ListFiles, not ListActiveFiles; callers needing the live count
// use len(ListActiveFiles())).
func (d *Document) FileCount() int {
	return len(d.allDocIDs())
}

// EncodeStateVector, EncodeStateAsUpdate, and EncodeDiff delegate to the
// backing LWWMap (spec §4.2 encoding operations).
func (d *Document) EncodeStateVector() []byte      { return d.m.EncodeStateVector() }
func (d *Document) EncodeStateAsUpdate() []byte    { return d.m.EncodeStateAsUpdate() }
func (d *Document) EncodeDiff(sv []byte) ([]byte, error) { return d.m.EncodeDiff(sv) }

// ApplyUpdateTrackingChanges applies update and diffs pre/post state to
// report every canonical path whose metadata changed and any
// (old_path, new_path) renames detected from a filename/part_of change on
// an existing document identifier (spec §4.2). origin is accepted for
// parity with the spec's signature and caller bookkeeping; it does not
// affect merge semantics (§3: "persistence and broadcasting treat all
// origins equally").
func (d *Document) ApplyUpdateTrackingChanges(update []byte, origin crdt.UpdateOrigin) (applied bool, changedPaths []string, renames []Rename, err error) {
	touched := map[string]struct{}{}
	for id := range d.allDocIDs() {
		touched[id] = struct{}{}
	}

	preFilename := map[string]string{}
	prePartOf := map[string]string{}
	prePath := map[string]string{}
	for id := range touched {
		if meta, ok := d.GetFile(id); ok {
			preFilename[id] = meta.Filename
			prePartOf[id] = meta.PartOf
		}
		if p, ok := d.CanonicalPathFor(id); ok {
			prePath[id] = p
		}
	}

	changedKeys, applyErr := d.m.ApplyUpdateDetailed(update)
	if applyErr != nil {
		return false, nil, nil, fmt.Errorf("workspace: applying update: %w", applyErr)
	}
	_ = origin

	changedDocIDs := map[string]struct{}{}
	for _, k := range changedKeys {
		docID, _, ok := splitCompoundKey(k)
		if ok {
			changedDocIDs[docID] = struct{}{}
		}
	}

	pathSet := map[string]struct{}{}
	for docID := range changedDocIDs {
		postPath, postOK := d.CanonicalPathFor(docID)
		prePathVal, preOK := prePath[docID]

		renamed := preOK && postOK && prePathVal != postPath &&
			(preFilename[docID] != "" || prePartOf[docID] != "") &&
			(d.fieldChanged(changedKeys, docID, fieldFilename) || d.fieldChanged(changedKeys, docID, fieldPartOf))

		switch {
		case renamed:
			renames = append(renames, Rename{OldPath: prePathVal, NewPath: postPath})
			pathSet[postPath] = struct{}{}
		case postOK:
			pathSet[postPath] = struct{}{}
		case preOK:
			pathSet[prePathVal] = struct{}{}
		}
	}

	changedPaths = make([]string, 0, len(pathSet))
	for p := range pathSet {
		changedPaths = append(changedPaths, p)
	}
	sort.Strings(changedPaths)

	sort.Slice(renames, func(i, j int) bool { return renames[i].OldPath < renames[j].OldPath })

	return len(changedKeys) > 0, changedPaths, renames, nil
}

func (d *Document) fieldChanged(changedKeys []string, docID, field string) bool {
	want := compoundKey(docID, field)
	for _, k := range changedKeys {
		if k == want {
			return true
		}
	}
	return false
}
