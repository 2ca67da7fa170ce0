package wire

import "encoding/json"

// ControlType tags the closed vocabulary of JSON control messages (spec
// §6). Control messages share the same WebSocket connection as the binary
// sync frames but are distinguished by opcode (text vs. binary) at the
// transport layer, not by any byte inside the payload.
type ControlType string

const (
	TypePeerJoined        ControlType = "peer_joined"
	TypePeerLeft          ControlType = "peer_left"
	TypeReadOnlyChanged   ControlType = "read_only_changed"
	TypeSessionEnded      ControlType = "session_ended"
	TypeSyncProgress      ControlType = "sync_progress"
	TypeSyncComplete      ControlType = "sync_complete"
	TypeFocusListChanged  ControlType = "focus_list_changed"
	TypeFileManifest      ControlType = "file_manifest"
	TypeFilesReady        ControlType = "files_ready"
	TypeCrdtState         ControlType = "crdt_state"
	TypeFocus            ControlType = "focus"
	TypeUnfocus          ControlType = "unfocus"
)

// PeerJoined and PeerLeft report the room's live guest count.
type PeerJoined struct {
	Type      ControlType `json:"type"`
	GuestID   string      `json:"guest_id"`
	PeerCount int         `json:"peer_count"`
}

func NewPeerJoined(guestID string, peerCount int) PeerJoined {
	return PeerJoined{Type: TypePeerJoined, GuestID: guestID, PeerCount: peerCount}
}

type PeerLeft struct {
	Type      ControlType `json:"type"`
	GuestID   string      `json:"guest_id"`
	PeerCount int         `json:"peer_count"`
}

func NewPeerLeft(guestID string, peerCount int) PeerLeft {
	return PeerLeft{Type: TypePeerLeft, GuestID: guestID, PeerCount: peerCount}
}

// ReadOnlyChanged announces a share session flipping between read-only and
// read-write.
type ReadOnlyChanged struct {
	Type     ControlType `json:"type"`
	ReadOnly bool        `json:"read_only"`
}

func NewReadOnlyChanged(readOnly bool) ReadOnlyChanged {
	return ReadOnlyChanged{Type: TypeReadOnlyChanged, ReadOnly: readOnly}
}

// SessionEnded notifies share-session guests that the owner revoked access.
type SessionEnded struct {
	Type ControlType `json:"type"`
}

func NewSessionEnded() SessionEnded { return SessionEnded{Type: TypeSessionEnded} }

// SyncProgress reports manifest-driven catch-up progress (spec §4.9).
type SyncProgress struct {
	Type      ControlType `json:"type"`
	Completed int         `json:"completed"`
	Total     int         `json:"total"`
}

func NewSyncProgress(completed, total int) SyncProgress {
	return SyncProgress{Type: TypeSyncProgress, Completed: completed, Total: total}
}

// SyncComplete is emitted exactly once per session on the client's first
// SyncStep2.
type SyncComplete struct {
	Type        ControlType `json:"type"`
	FilesSynced int         `json:"files_synced"`
}

func NewSyncComplete(filesSynced int) SyncComplete {
	return SyncComplete{Type: TypeSyncComplete, FilesSynced: filesSynced}
}

// FocusListChanged reports the aggregate focus set across all clients in a
// room.
type FocusListChanged struct {
	Type  ControlType `json:"type"`
	Files []string    `json:"files"`
}

func NewFocusListChanged(files []string) FocusListChanged {
	return FocusListChanged{Type: TypeFocusListChanged, Files: files}
}

// ManifestEntry is one file listed in a FileManifest.
type ManifestEntry struct {
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	Title    *string `json:"title,omitempty"`
	PartOf   *string `json:"part_of,omitempty"`
	Deleted  bool    `json:"deleted"`
}

// FileManifest drives the handshake: the server's inventory of files the
// connecting client may be missing.
type FileManifest struct {
	Type        ControlType     `json:"type"`
	Files       []ManifestEntry `json:"files"`
	ClientIsNew bool            `json:"client_is_new"`
}

func NewFileManifest(files []ManifestEntry, clientIsNew bool) FileManifest {
	return FileManifest{Type: TypeFileManifest, Files: files, ClientIsNew: clientIsNew}
}

// FilesReady is sent by the client once every manifest file has been
// fetched.
type FilesReady struct {
	Type ControlType `json:"type"`
}

func NewFilesReady() FilesReady { return FilesReady{Type: TypeFilesReady} }

// CrdtState carries a base64-encoded full workspace document state, sent
// by the server after FilesReady; the client replaces (never merges) its
// local workspace document with this state (spec §4.5).
type CrdtState struct {
	Type  ControlType `json:"type"`
	State string      `json:"state"`
}

func NewCrdtState(stateBase64 string) CrdtState {
	return CrdtState{Type: TypeCrdtState, State: stateBase64}
}

// Focus and Unfocus are client-originated requests to add/remove a path
// from its focus set in multiplexed body mode.
type Focus struct {
	Type ControlType `json:"type"`
	Path string      `json:"path"`
}

func NewFocus(path string) Focus { return Focus{Type: TypeFocus, Path: path} }

type Unfocus struct {
	Type ControlType `json:"type"`
	Path string      `json:"path"`
}

func NewUnfocus(path string) Unfocus { return Unfocus{Type: TypeUnfocus, Path: path} }

// envelope is used only to sniff the "type" discriminator before decoding
// into the concrete struct.
type envelope struct {
	Type ControlType `json:"type"`
}

// DecodeControl sniffs the type tag in raw JSON and unmarshals into the
// matching concrete struct, returned as `any`. Callers type-switch on the
// result.
func DecodeControl(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	var out any
	switch env.Type {
	case TypePeerJoined:
		out = &PeerJoined{}
	case TypePeerLeft:
		out = &PeerLeft{}
	case TypeReadOnlyChanged:
		out = &ReadOnlyChanged{}
	case TypeSessionEnded:
		out = &SessionEnded{}
	case TypeSyncProgress:
		out = &SyncProgress{}
	case TypeSyncComplete:
		out = &SyncComplete{}
	case TypeFocusListChanged:
		out = &FocusListChanged{}
	case TypeFileManifest:
		out = &FileManifest{}
	case TypeFilesReady:
		out = &FilesReady{}
	case TypeCrdtState:
		out = &CrdtState{}
	case TypeFocus:
		out = &Focus{}
	case TypeUnfocus:
		out = &Unfocus{}
	default:
		return nil, &UnknownControlTypeError{Type: string(env.Type)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// UnknownControlTypeError is returned by DecodeControl for an unrecognized
// "type" discriminator.
type UnknownControlTypeError struct {
	Type string
}

func (e *UnknownControlTypeError) Error() string {
	return "wire: unknown control message type " + e.Type
}
