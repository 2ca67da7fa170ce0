package crdt

import "fmt"

// lwwEntry is one key's last-writer-wins register.
type lwwEntry struct {
	id    ID     // the op that last wrote this key; used as the tie-break
	value []byte // caller-defined encoding (JSON for FileMetadata fields)
}

// LWWMap is a last-writer-wins register map CRDT: concurrent writes to the
// same key are resolved by winnerIsNewer (spec §4.2: "the design accepts
// last-writer-wins per field at the merge point; modification time is
// informational, never used for conflict resolution"). It backs the
// workspace metadata document (one entry per "<docID>\x00<field>" compound
// key).
//
// Unlike RGA, nothing is buffered here: the state vector counts only each
// actor's run of sequence numbers received contiguously from zero. A write
// arriving out of order is still applied (its LWW priority does not depend
// on the state vector) but is never counted, and when the missing seq
// arrives later the vector steps past that one seq only. The vector can
// therefore lag what this replica holds, which costs at most re-sent
// entries, since the state vector is only ever used to avoid re-sending
// data the peer already reported having.
type LWWMap struct {
	actor   ActorID
	clock   uint64
	entries map[string]lwwEntry
	seqSeen map[ActorID]uint64
}

// NewLWWMap creates an empty map CRDT owned by actor.
func NewLWWMap(actor ActorID) *LWWMap {
	return &LWWMap{
		actor:   actor,
		entries: make(map[string]lwwEntry),
		seqSeen: make(map[ActorID]uint64),
	}
}

// Actor returns the replica identifier this map assigns to its own writes.
func (m *LWWMap) Actor() ActorID { return m.actor }

// Get returns the current value for key and whether it is set.
func (m *LWWMap) Get(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Keys returns every key currently set (order undefined).
func (m *LWWMap) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// Set writes key=value locally, assigning the next local op id. Returns the
// assigned id (callers rarely need it; kept for symmetry with RGA).
func (m *LWWMap) Set(key string, value []byte) ID {
	id := ID{Actor: m.actor, Seq: m.clock}
	m.clock++
	m.applyWrite(id, key, value)
	return id
}

// Delete removes key locally (implemented as a write of a nil value; the
// caller distinguishes "absent" from "empty" as needed via a convention,
// e.g. the workspace document's tombstone field).
func (m *LWWMap) Delete(key string) {
	m.Set(key, nil)
}

func (m *LWWMap) applyWrite(id ID, key string, value []byte) bool {
	existing, ok := m.entries[key]
	if ok {
		// Newer write wins if winnerIsNewer ranks id above existing (higher
		// Seq, then higher Actor), matching "last writer" by op order
		// rather than wall-clock time.
		if !winnerIsNewer(id, existing.id) {
			m.advanceSeqVector(id)
			return false
		}
	}

	m.entries[key] = lwwEntry{id: id, value: value}
	m.advanceSeqVector(id)
	return true
}

// winnerIsNewer reports whether candidate should replace incumbent under
// the map's last-writer-wins tie-break: higher Seq wins; ties on Seq
// (impossible within one actor, possible across actors) fall back to the
// same Actor-priority rule RGA uses for deterministic convergence.
func winnerIsNewer(candidate, incumbent ID) bool {
	if candidate.Seq != incumbent.Seq {
		return candidate.Seq > incumbent.Seq
	}
	return candidate.Actor > incumbent.Actor
}

func (m *LWWMap) advanceSeqVector(id ID) {
	want := m.seqSeen[id.Actor]
	if id.Seq != want {
		return
	}
	m.seqSeen[id.Actor] = want + 1
}

// EncodeStateVector returns this replica's per-actor contiguous op counts.
func (m *LWWMap) EncodeStateVector() []byte {
	e := newEncoder()
	e.writeUvarint(uint64(len(m.seqSeen)))
	for actor, seq := range m.seqSeen {
		e.writeUvarint(uint64(actor))
		e.writeUvarint(seq)
	}
	return e.bytes()
}

// EncodeStateAsUpdate returns every entry as an update.
func (m *LWWMap) EncodeStateAsUpdate() []byte {
	out, _ := m.EncodeDiff(nil)
	return out
}

// EncodeDiff encodes every entry whose writing op exceeds remoteSV[actor].
// The second envelope section is always empty (LWWMap has no delete set
// distinct from an ordinary write — see Delete) so the two-varint empty
// envelope still collapses to exactly 2 bytes when nothing is new.
func (m *LWWMap) EncodeDiff(remoteSV []byte) ([]byte, error) {
	sv := map[ActorID]uint64{}
	if len(remoteSV) > 0 {
		var err error
		sv, err = decodeStateVector(remoteSV)
		if err != nil {
			return nil, fmt.Errorf("crdt: decoding remote state vector: %w", err)
		}
	}

	type entry struct {
		key string
		e   lwwEntry
	}
	var pending []entry
	for k, e := range m.entries {
		if e.id.Seq >= sv[e.id.Actor] {
			pending = append(pending, entry{key: k, e: e})
		}
	}

	enc := newEncoder()
	enc.writeUvarint(uint64(len(pending)))
	for _, p := range pending {
		enc.writeUvarint(uint64(p.e.id.Actor))
		enc.writeUvarint(p.e.id.Seq)
		enc.writeString(p.key)
		enc.writeBytes(p.e.value)
	}
	enc.writeUvarint(0) // unused second section, kept for envelope symmetry with RGA

	return enc.bytes(), nil
}

// ApplyUpdate integrates every write in update, applying the LWW tie-break
// per key. Returns whether any key's visible value changed.
func (m *LWWMap) ApplyUpdate(update []byte) (bool, error) {
	changedKeys, err := m.ApplyUpdateDetailed(update)
	return len(changedKeys) > 0, err
}

// ApplyUpdateDetailed is like ApplyUpdate but also reports which keys
// actually changed value, letting callers that track compound
// "<id>\x00<field>" keys (the workspace document) derive the set of
// document identifiers touched by one update (spec §4.2
// apply_update_tracking_changes).
func (m *LWWMap) ApplyUpdateDetailed(update []byte) ([]string, error) {
	d := newDecoder(update)

	count, err := d.readUvarint()
	if err != nil {
		return nil, fmt.Errorf("crdt: decoding map update: %w", err)
	}

	var changedKeys []string
	for i := uint64(0); i < count; i++ {
		actor, err := d.readUvarint()
		if err != nil {
			return changedKeys, fmt.Errorf("crdt: decoding map actor: %w", err)
		}
		seq, err := d.readUvarint()
		if err != nil {
			return changedKeys, fmt.Errorf("crdt: decoding map seq: %w", err)
		}
		key, err := d.readString()
		if err != nil {
			return changedKeys, fmt.Errorf("crdt: decoding map key: %w", err)
		}
		value, err := d.readBytes()
		if err != nil {
			return changedKeys, fmt.Errorf("crdt: decoding map value: %w", err)
		}

		id := ID{Actor: ActorID(actor), Seq: seq}
		before, hadBefore := m.entries[key]
		wrote := m.applyWrite(id, key, value)
		if wrote && (!hadBefore || string(before.value) != string(value)) {
			changedKeys = append(changedKeys, key)
		}

		if ActorID(actor) == m.actor && seq >= m.clock {
			m.clock = seq + 1
		}
	}

	// Unused trailing section; must still be consumed so a concatenated
	// multi-message frame decodes the next message correctly.
	if _, err := d.readUvarint(); err != nil {
		return changedKeys, fmt.Errorf("crdt: decoding map update trailer: %w", err)
	}

	return changedKeys, nil
}
