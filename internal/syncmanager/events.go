package syncmanager

// Event is the closed set of notifications the sync manager raises toward
// its host (spec §6 "Event channel (core → host)").
type Event interface{ isEvent() }

// ContentsChanged reports a real (non-echo) remote body update.
type ContentsChanged struct {
	Path    string
	NewBody string
}

func (ContentsChanged) isEvent() {}

// SendSyncMessage is an outgoing frame the host must forward over its
// transport. Bytes is already wire-framed (and, for body updates,
// multiplexed with the path).
type SendSyncMessage struct {
	DocName string
	Bytes   []byte
	IsBody  bool
}

func (SendSyncMessage) isEvent() {}

// EventCallback receives every Event the manager raises. Cleared by
// Shutdown so queued events cannot fire into a dead sink (spec §4.5).
type EventCallback func(Event)
