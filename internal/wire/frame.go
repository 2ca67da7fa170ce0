// Package wire implements the framed binary sync protocol (spec §4.4) and
// the JSON control-message vocabulary exchanged over the same transport
// (spec §6).
package wire

import (
	"encoding/binary"
	"fmt"
)

// frameType is the single binary message type currently defined. The spec
// reserves the byte for future message families sharing the transport.
type frameType byte

const frameTypeSync frameType = 0x01

// Subtype identifies which of the three sync sub-messages a frame carries.
type Subtype byte

const (
	Step1  Subtype = 0x01
	Step2  Subtype = 0x02
	Update Subtype = 0x03
)

func (s Subtype) String() string {
	switch s {
	case Step1:
		return "SyncStep1"
	case Step2:
		return "SyncStep2"
	case Update:
		return "Update"
	default:
		return fmt.Sprintf("Subtype(%d)", byte(s))
	}
}

// Message is one decoded sync sub-message: a subtype and its payload (a
// state vector for Step1, a CRDT update for Step2/Update).
type Message struct {
	Subtype Subtype
	Payload []byte
}

// headerLen is type byte + subtype byte + 4-byte big-endian length prefix.
const headerLen = 1 + 1 + 4

func encodeOne(subtype Subtype, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0] = byte(frameTypeSync)
	buf[1] = byte(subtype)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	copy(buf[6:], payload)
	return buf
}

// EncodeStep1 frames a SyncStep1 message carrying a state vector.
func EncodeStep1(stateVector []byte) []byte { return encodeOne(Step1, stateVector) }

// EncodeStep2 frames a SyncStep2 message carrying a diff.
func EncodeStep2(update []byte) []byte { return encodeOne(Step2, update) }

// EncodeUpdate frames an unsolicited Update message.
func EncodeUpdate(update []byte) []byte { return encodeOne(Update, update) }

// Concat appends additional encoded frames after base, matching the spec's
// "respond with SyncStep2(...) concatenated with our own SyncStep1(...)".
func Concat(frames ...[]byte) []byte {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// Decode parses every concatenated message in frame and returns them in
// order (spec §4.4: "multiple messages may be concatenated in one frame;
// the decoder returns a list"). A truncated trailing message is a protocol
// error; a zero-length frame decodes to an empty, non-nil-error slice.
func Decode(frame []byte) ([]Message, error) {
	var messages []Message
	for len(frame) > 0 {
		if len(frame) < headerLen {
			return messages, fmt.Errorf("wire: truncated frame header (%d bytes left)", len(frame))
		}
		if frameType(frame[0]) != frameTypeSync {
			return messages, fmt.Errorf("wire: unknown frame type 0x%02x", frame[0])
		}
		subtype := Subtype(frame[1])
		switch subtype {
		case Step1, Step2, Update:
		default:
			return messages, fmt.Errorf("wire: unknown sync subtype 0x%02x", frame[1])
		}

		length := binary.BigEndian.Uint32(frame[2:6])
		frame = frame[headerLen:]
		if uint64(len(frame)) < uint64(length) {
			return messages, fmt.Errorf("wire: truncated payload: want %d bytes, have %d", length, len(frame))
		}

		payload := frame[:length]
		frame = frame[length:]
		messages = append(messages, Message{Subtype: subtype, Payload: payload})
	}
	return messages, nil
}
