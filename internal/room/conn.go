package room

import "context"

// Conn abstracts the one method a room needs from a live connection, kept
// separate from any concrete transport so the room can be driven by tests
// without a live WebSocket (the same abstraction fsbridge uses for its
// Filesystem/FsWatcher dependencies). MessageKind distinguishes the sync
// protocol's binary frames from its JSON control messages, mirroring how
// the transport itself multiplexes them by WebSocket opcode (spec §6).
type Conn interface {
	Send(ctx context.Context, kind MessageKind, data []byte) error
}

// MessageKind selects which WebSocket opcode a Conn.Send call should use.
type MessageKind int

const (
	KindBinary MessageKind = iota
	KindText
)
