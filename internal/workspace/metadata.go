// Package workspace implements the single CRDT document that covers every
// file's metadata in a workspace (spec §4.2): filename, parent, children,
// attachments, audience, and the deletion tombstone, keyed by stable
// document identifier (or, in legacy mode, by path — see §9 Open
// Questions).
package workspace

// BinaryRef describes one attachment reference stored on a FileMetadata
// (spec §3).
type BinaryRef struct {
	Path       string `json:"path"`
	Source     string `json:"source,omitempty"`
	Hash       string `json:"hash,omitempty"` // hex sha256, empty until uploaded
	MimeType   string `json:"mime_type,omitempty"`
	Size       int64  `json:"size,omitempty"`
	UploadedAt int64  `json:"uploaded_at,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

// FileMetadata is the reconstructed view of one document identifier's
// fields (spec §3). Each field is stored as an independent LWW register so
// concurrent edits to different fields of the same file never clobber one
// another — only a genuine write race on the *same* field is resolved by
// last-writer-wins.
type FileMetadata struct {
	DocID       string
	Filename    string
	Title       string
	Description string
	PartOf      string // parent document identifier, or legacy path string
	Contents    []string
	Attachments []BinaryRef
	Audience    []string
	Deleted     bool
	Extra       map[string]any
	ModifiedAt  int64
}

// Rename is one (old_path, new_path) pair detected by
// ApplyUpdateTrackingChanges so the filesystem bridge can move rather than
// delete+create a file (spec §4.2, §8 property 6/7).
type Rename struct {
	OldPath string
	NewPath string
}

const pathSeparator = "/"

const (
	fieldFilename    = "filename"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldPartOf      = "part_of"
	fieldContents    = "contents"
	fieldAttachments = "attachments"
	fieldAudience    = "audience"
	fieldDeleted     = "deleted"
	fieldExtra       = "extra"
	fieldModifiedAt  = "modified_at"
)
