// Package syncmanager implements the per-workspace sync manager (spec
// §4.5): delta encoding against last-sent state vectors, echo suppression,
// focus-based subscription, and the client side of the handshake.
package syncmanager

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/diaryx-dev/diaryx-sync/internal/bodydoc"
	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// Manager owns one workspace's CRDT documents and the bookkeeping needed
// to turn their mutations into minimal wire traffic.
type Manager struct {
	mu sync.Mutex

	workspaceID string
	ws          *workspace.Document
	bodies      *bodydoc.Manager
	handler     SyncHandler
	onEvent     EventCallback
	logger      *slog.Logger

	lastKnownContent  map[string]string
	lastKnownMetadata map[string]workspace.FileMetadata

	lastSentBodySV        map[string][]byte
	lastSyncedBodySVs     map[string][]byte
	lastSyncedWorkspaceSV []byte

	focused map[string]struct{}

	syncCompleteSent bool
	handshake        handshakeState
}

// New creates a Manager for workspaceID. ws and bodies must already be
// wired to this manager's workspace; New installs the observers that turn
// their local mutations into outgoing SendSyncMessage events.
func New(workspaceID string, ws *workspace.Document, bodies *bodydoc.Manager, handler SyncHandler, onEvent EventCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		workspaceID:       workspaceID,
		ws:                ws,
		bodies:            bodies,
		handler:           handler,
		onEvent:           onEvent,
		logger:            logger,
		lastKnownContent:  map[string]string{},
		lastKnownMetadata: map[string]workspace.FileMetadata{},
		lastSentBodySV:    map[string][]byte{},
		lastSyncedBodySVs: map[string][]byte{},
		focused:           map[string]struct{}{},
	}
	ws.SetOnUpdate(m.onLocalWorkspaceUpdate)
	return m
}

// BodyObserver is passed as the onUpdate callback to bodydoc.NewManager so
// every local body mutation, for any path in this workspace, is forwarded
// automatically (spec §4.5: "an observer callback wired into every body
// doc to emit outgoing updates automatically").
func (m *Manager) BodyObserver(docName string, updateBytes []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := pathFromBodyDocName(m.workspaceID, docName)
	if !ok {
		return
	}
	m.lastSentBodySV[path] = m.currentBodySV(path)
	m.emit(SendSyncMessage{
		DocName: docName,
		Bytes:   wire.WrapBody(path, wire.EncodeUpdate(updateBytes)),
		IsBody:  true,
	})
}

func (m *Manager) currentBodySV(path string) []byte {
	doc, err := m.bodies.Get(context.Background(), bodyDocName(m.workspaceID, path))
	if err != nil {
		return nil
	}
	return doc.EncodeStateVector()
}

func (m *Manager) onLocalWorkspaceUpdate(update []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSyncedWorkspaceSV = m.ws.EncodeStateVector()
	m.emit(SendSyncMessage{
		DocName: workspaceDocName(m.workspaceID),
		Bytes:   wire.EncodeUpdate(update),
		IsBody:  false,
	})
}

func (m *Manager) emit(e Event) {
	if m.onEvent == nil {
		return
	}
	m.onEvent(e)
}

// WorkspaceID returns the workspace identifier this manager was created
// for.
func (m *Manager) WorkspaceID() string { return m.workspaceID }

// Workspace exposes the underlying workspace document so a filesystem
// bridge can drive local mutations that this manager then auto-broadcasts.
func (m *Manager) Workspace() *workspace.Document { return m.ws }

// Bodies exposes the body document manager for the same reason.
func (m *Manager) Bodies() *bodydoc.Manager { return m.bodies }

// Focus adds path to the focus set (spec §4.5 "focus set: focused_files ⊆
// path"). Preserved across reset().
func (m *Manager) Focus(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focused[path] = struct{}{}
}

// Unfocus removes path from the focus set.
func (m *Manager) Unfocus(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.focused, path)
}

// FocusedPaths returns the current focus set, sorted.
func (m *Manager) FocusedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.focused))
	for p := range m.focused {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// TrackContent records c as the last-known content of path, establishing
// the echo-suppression baseline (spec §8 property 4).
func (m *Manager) TrackContent(path, c string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastKnownContent[path] = c
}

// Reset clears synced state (last-sent/last-synced state vectors, known
// content/metadata, the completion flag) while preserving the focus set,
// so reconnect automatically re-focuses (spec §4.5 "Cancellation").
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastKnownContent = map[string]string{}
	m.lastKnownMetadata = map[string]workspace.FileMetadata{}
	m.lastSentBodySV = map[string][]byte{}
	m.lastSyncedBodySVs = map[string][]byte{}
	m.lastSyncedWorkspaceSV = nil
	m.syncCompleteSent = false
	m.handshake = handshakeState{}
}

// Shutdown clears the event callback so no further event can fire into a
// dead sink (spec §4.5 "Shutdown disconnects the transport and clears the
// event callback").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = nil
}

// isContentEqualIgnoringModifiedAt compares two FileMetadata values for
// the purpose of metadata echo suppression (spec §4.5
// "is_content_equal ignoring modified_at").
func isContentEqualIgnoringModifiedAt(a, b workspace.FileMetadata) bool {
	a.ModifiedAt = 0
	b.ModifiedAt = 0
	return reflect.DeepEqual(a, b)
}

// FlushBodyState re-sends path's body document against whatever baseline
// is on record, falling back to full state when reset() (or a fresh
// focus) has left no baseline. Used to resynchronize a peer after
// reconnect without waiting for the next local edit.
func (m *Manager) FlushBodyState(ctx context.Context, path string) error {
	doc, err := m.bodies.Get(ctx, bodyDocName(m.workspaceID, path))
	if err != nil {
		return fmt.Errorf("syncmanager: loading body doc for %s: %w", path, err)
	}

	m.mu.Lock()
	baseline, ok := m.lastSentBodySV[path]
	m.mu.Unlock()

	var payload []byte
	if ok {
		payload, err = doc.EncodeDiff(baseline)
		if err != nil {
			return fmt.Errorf("syncmanager: diffing body state for %s: %w", path, err)
		}
	} else {
		payload = doc.EncodeStateAsUpdate()
	}

	if len(payload) <= crdt.EmptyUpdateSentinelLen {
		return nil
	}

	m.mu.Lock()
	m.lastSentBodySV[path] = doc.EncodeStateVector()
	m.mu.Unlock()

	m.emit(SendSyncMessage{
		DocName: bodyDocName(m.workspaceID, path),
		Bytes:   wire.WrapBody(path, wire.EncodeUpdate(payload)),
		IsBody:  true,
	})
	return nil
}
