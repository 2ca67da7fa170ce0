package crdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encoder accumulates a CRDT update/state-vector payload. Every encoded
// document update — RGA or LWWMap — is framed as two varint-counted
// sections so an update carrying nothing in either section is exactly two
// bytes (the empty-update sentinel of spec §8 property 1, asserted in
// rga_test.go and lwwmap_test.go). Section layout is structure-specific; see rga.go/lwwmap.go.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

func (e *encoder) writeUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

func (e *encoder) writeBytes(b []byte) {
	e.writeUvarint(uint64(len(b)))
	e.buf.Write(b)
}

func (e *encoder) writeString(s string) {
	e.writeBytes([]byte(s))
}

// decoder reads back what encoder wrote, tracking position for error
// reporting without panicking on malformed input (§7: protocol decode
// errors must be returned, never crash the reader).
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) remaining() int { return len(d.buf) - d.pos }

func (d *decoder) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("crdt: truncated varint at offset %d", d.pos)
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(d.remaining()) < n {
		return nil, fmt.Errorf("crdt: truncated byte slice at offset %d (want %d, have %d)", d.pos, n, d.remaining())
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EmptyUpdateSentinelLen is the exact byte length of an update encoding
// neither structs nor a delete set (spec §8 property 1, glossary
// "Empty-update sentinel"). Every emitter that might produce a no-op delta
// must test len(update) > EmptyUpdateSentinelLen before sending it.
const EmptyUpdateSentinelLen = 2
