// Package bodydoc implements the per-file body document (spec §4.3): a
// text CRDT holding the Markdown body, plus an advisory side-map of
// frontmatter properties populated locally from the latest parsed
// frontmatter. Only the text CRDT is exchanged over the wire — the map is
// never diffed or broadcast, matching the spec's description of it as
// "advisory" (an Open Question resolved in DESIGN.md).
package bodydoc

import (
	"sync"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

// OnUpdate is invoked with the outgoing delta whenever a *local* mutation
// changes the body text (spec §4.3, §9 "Runtime observer callbacks on CRDT
// docs"). Never invoked for Remote/Sync origin applies.
type OnUpdate func(docName string, updateBytes []byte)

// Document owns one file's body text CRDT and frontmatter side-map. Safe
// for concurrent use: every mutation holds a short-lived lock for the
// duration of the change, matching spec §5 ("CRDT mutations themselves are
// synchronous and run under a short-lived write lock on the target
// document").
type Document struct {
	mu   sync.Mutex
	text *crdt.RGA
	// props is advisory: populated by SetProperty from a parsed frontmatter
	// block and read back through GetProperty, never networked.
	props map[string]string

	nameMu sync.RWMutex
	name   string // e.g. "body:<workspaceId>/<canonicalPath>"

	onUpdate       OnUpdate
	applyingRemote bool
}

// New creates a body document addressed by name.
func New(actor crdt.ActorID, name string, onUpdate OnUpdate) *Document {
	return &Document{
		text:     crdt.NewRGA(actor),
		props:    map[string]string{},
		name:     name,
		onUpdate: onUpdate,
	}
}

// DocName reads the current name through a guarded interior reference so
// an in-flight Rename is observed without recreating the document (spec
// §4.3).
func (d *Document) DocName() string {
	d.nameMu.RLock()
	defer d.nameMu.RUnlock()
	return d.name
}

// Rename updates the reported doc_name in place.
func (d *Document) Rename(newName string) {
	d.nameMu.Lock()
	defer d.nameMu.Unlock()
	d.name = newName
}

// Body returns the current visible text.
func (d *Document) Body() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.Text()
}

// SetBody replaces the body text via the minimal-diff edit (spec §4.3,
// §8 property 5) and, if this is a local mutation, emits the resulting
// delta through onUpdate.
func (d *Document) SetBody(newText string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := d.text.EncodeStateVector()
	d.text.SetText(newText)
	d.emitIfLocal(before)
}

// emitIfLocal must be called with mu held.
func (d *Document) emitIfLocal(beforeSV []byte) {
	if d.applyingRemote || d.onUpdate == nil {
		return
	}
	diff, err := d.text.EncodeDiff(beforeSV)
	if err != nil || len(diff) <= crdt.EmptyUpdateSentinelLen {
		return
	}
	d.onUpdate(d.DocName(), diff)
}

// ApplyUpdate integrates a remote/sync update. apply_update raises the
// applying_remote guard for the duration of the mutation so the outgoing
// observer never fires for a non-local origin (spec §4.3, §9 "Guard flag
// during apply" — the guarantee that the clear runs even on error is
// provided by the deferred reset).
func (d *Document) ApplyUpdate(update []byte, origin crdt.UpdateOrigin) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !origin.IsLocal() {
		d.applyingRemote = true
		defer func() { d.applyingRemote = false }()
	}

	return d.text.ApplyUpdate(update)
}

// EncodeStateVector, EncodeStateAsUpdate, and EncodeDiff expose the
// underlying text CRDT's encoding operations (spec §4.4/§4.5 rely on
// these directly).
func (d *Document) EncodeStateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.EncodeStateVector()
}

func (d *Document) EncodeStateAsUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.EncodeStateAsUpdate()
}

func (d *Document) EncodeDiff(remoteSV []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text.EncodeDiff(remoteSV)
}

// SetProperty records a frontmatter property locally (advisory, not
// networked).
func (d *Document) SetProperty(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props[key] = value
}

// GetProperty reads a locally-tracked frontmatter property.
func (d *Document) GetProperty(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.props[key]
	return v, ok
}
