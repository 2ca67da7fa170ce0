package wire

import (
	"encoding/binary"
	"fmt"
)

// WrapBody multiplexes an already-framed sync message onto a single
// transport shared by many body documents (spec §4.4: "each message is
// additionally wrapped as [varint(pathLen)][pathBytes (UTF-8)][inner
// message]"). path is the canonical file path the inner message concerns.
func WrapBody(path string, inner []byte) []byte {
	pathBytes := []byte(path)
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(pathBytes)))

	out := make([]byte, 0, n+len(pathBytes)+len(inner))
	out = append(out, lenBuf[:n]...)
	out = append(out, pathBytes...)
	out = append(out, inner...)
	return out
}

// UnwrapBody reverses WrapBody, returning the path and the remaining
// frame (itself decodable with Decode).
func UnwrapBody(frame []byte) (path string, inner []byte, err error) {
	pathLen, n := binary.Uvarint(frame)
	if n <= 0 {
		return "", nil, fmt.Errorf("wire: malformed body multiplex length prefix")
	}
	frame = frame[n:]
	if uint64(len(frame)) < pathLen {
		return "", nil, fmt.Errorf("wire: truncated body multiplex path: want %d bytes, have %d", pathLen, len(frame))
	}
	return string(frame[:pathLen]), frame[pathLen:], nil
}
