package syncmanager

import (
	"encoding/base64"
	"fmt"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// HandshakePhase is the client-side state in the first-connection
// handshake (spec §4.5 "Handshake client side").
type HandshakePhase int

const (
	// PhaseSynced is the steady state: either the handshake completed, or
	// no handshake was ever needed (an empty local workspace follows the
	// same protocol but never blocks normal sync).
	PhaseSynced HandshakePhase = iota
	PhaseAwaitingManifest
	PhaseAwaitingFilesReady
)

func (p HandshakePhase) String() string {
	switch p {
	case PhaseAwaitingManifest:
		return "awaiting_manifest"
	case PhaseAwaitingFilesReady:
		return "awaiting_files_ready"
	default:
		return "synced"
	}
}

type handshakeState struct {
	phase HandshakePhase
}

// BeginHandshake starts the client side of the handshake described in
// spec §4.5: "on connect with a non-empty local workspace, wait for the
// server's FileManifest ... on receipt of CrdtState, replace (do not
// merge) the workspace document state." hasLocalFiles selects between the
// gated and ungated paths; an empty local workspace still follows the
// protocol (the server still may send a manifest) but the client is never
// blocked from ordinary sync while awaiting it.
func (m *Manager) BeginHandshake(hasLocalFiles bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hasLocalFiles {
		m.handshake.phase = PhaseAwaitingManifest
	} else {
		m.handshake.phase = PhaseSynced
	}
}

// Phase reports the current handshake phase.
func (m *Manager) Phase() HandshakePhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshake.phase
}

// MissingFiles is called by the host with a FileManifest; it returns the
// set of doc IDs the caller still needs to fetch over the HTTP/attachment
// channel before sending FilesReady, and transitions the phase.
func (m *Manager) MissingFiles(manifestDocIDs []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []string
	for _, docID := range manifestDocIDs {
		if _, ok := m.ws.GetFile(docID); !ok {
			missing = append(missing, docID)
		}
	}

	m.handshake.phase = PhaseAwaitingFilesReady
	return missing
}

// CompleteHandshake applies the server's post-FilesReady CrdtState by
// REPLACING (never merging) the local workspace document — merging an
// empty new-client document into a full server document would tombstone
// every file, since the empty document's "I have nothing" state vector
// looks to the merge algorithm like deletions never happened locally
// rather than simply unknown (spec §4.5).
func (m *Manager) CompleteHandshake(stateBase64 string) error {
	raw, err := base64.StdEncoding.DecodeString(stateBase64)
	if err != nil {
		return fmt.Errorf("syncmanager: decoding crdt_state payload: %w", err)
	}

	messages, err := wire.Decode(raw)
	if err != nil {
		return fmt.Errorf("syncmanager: decoding crdt_state frame: %w", err)
	}

	replacement := workspace.New(m.ws.Actor())
	for _, msg := range messages {
		if msg.Subtype != wire.Update && msg.Subtype != wire.Step2 {
			continue
		}
		if _, err := replacement.ApplyUpdateTrackingChanges(msg.Payload, crdt.OriginSync); err != nil {
			return fmt.Errorf("syncmanager: applying crdt_state: %w", err)
		}
	}

	m.mu.Lock()
	*m.ws = *replacement
	m.ws.SetOnUpdate(m.onLocalWorkspaceUpdate)
	m.handshake.phase = PhaseSynced
	m.mu.Unlock()
	return nil
}
