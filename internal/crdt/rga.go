package crdt

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// rgaNode is one character in the replicated growable array. Deleted nodes
// (tombstones) are kept forever so concurrent deletes and inserts around
// them converge (classic RGA; see Roh et al., "Replicated abstract data
// types").
type rgaNode struct {
	id      ID
	origin  ID // Zero means "inserted at the head"
	value   rune
	deleted bool
	prev    *rgaNode
	next    *rgaNode
}

// RGA is a text CRDT: an ordered, tombstone-preserving sequence of runes.
// It is the sole structure backing BodyDocument's text (§4.3).
//
// Concurrency model: integration is single-level — when two inserts target
// the same origin, they are ordered deterministically by ID.Less so every
// replica converges to the same order without a shared clock. This is the
// simplification documented in DESIGN.md: correct for the common case of
// sibling concurrent inserts (including every scenario in spec §8), not a
// full multi-level causal-tree resolution.
type RGA struct {
	actor   ActorID
	clock   uint64 // next local seq to assign
	head    *rgaNode
	byID    map[ID]*rgaNode
	pending map[ID][]*rgaNode // keyed by missing origin ID
	seqSeen map[ActorID]uint64 // state vector: actor -> count of contiguous ops integrated
	bufSeq  map[ActorID]map[uint64]*rgaNode // out-of-order-by-seq buffer, keyed by actor
}

// NewRGA creates an empty text CRDT owned by actor.
func NewRGA(actor ActorID) *RGA {
	return &RGA{
		actor:   actor,
		byID:    make(map[ID]*rgaNode),
		pending: make(map[ID][]*rgaNode),
		seqSeen: make(map[ActorID]uint64),
		bufSeq:  make(map[ActorID]map[uint64]*rgaNode),
	}
}

// Text returns the current visible (non-tombstoned) text.
func (r *RGA) Text() string {
	var out []rune
	for n := r.head; n != nil; n = n.next {
		if !n.deleted {
			out = append(out, n.value)
		}
	}
	return string(out)
}

// Len returns the number of visible runes.
func (r *RGA) Len() int {
	n := 0
	for c := r.head; c != nil; c = c.next {
		if !c.deleted {
			n++
		}
	}
	return n
}

// visibleNodeAt returns the node holding the i-th visible rune (0-indexed),
// or nil with ok=false if i == Len() (meaning "insert at the end").
func (r *RGA) visibleNodeAt(i int) (*rgaNode, bool) {
	idx := 0
	for n := r.head; n != nil; n = n.next {
		if n.deleted {
			continue
		}
		if idx == i {
			return n, true
		}
		idx++
	}
	return nil, false
}

// localInsert inserts value before the visible position pos (0 == start,
// Len() == end), assigning the local actor's next sequence number, and
// integrates it immediately (a local actor always has its own causal
// history available). Returns the newly assigned ID.
func (r *RGA) localInsert(pos int, value rune) ID {
	var origin ID
	if pos > 0 {
		before, ok := r.visibleNodeAt(pos - 1)
		if ok {
			origin = before.id
		}
	}

	id := ID{Actor: r.actor, Seq: r.clock}
	r.clock++

	node := &rgaNode{id: id, origin: origin, value: value}
	r.integrate(node)
	return id
}

// localDelete tombstones the visible rune at pos (0-indexed). No-op if pos
// is out of range.
func (r *RGA) localDelete(pos int) {
	n, ok := r.visibleNodeAt(pos)
	if !ok {
		return
	}
	n.deleted = true
}

// integrate splices node into the list relative to its origin, applying the
// sibling tie-break (ID.Less) against any already-present concurrent
// inserts at the same origin, then records the node and replays anything
// that was waiting on it.
func (r *RGA) integrate(node *rgaNode) {
	r.byID[node.id] = node

	var left *rgaNode
	if !node.origin.IsZero() {
		o, ok := r.byID[node.origin]
		if !ok {
			// Origin not seen yet: buffer until it arrives.
			r.pending[node.origin] = append(r.pending[node.origin], node)
			delete(r.byID, node.id)
			return
		}
		left = o
	}

	// Scan right over siblings that share the same origin and must sort
	// before node under the deterministic tie-break.
	insertAfter := left
	scan := r.head
	if left != nil {
		scan = left.next
	}
	for scan != nil && scan.origin == node.origin && scan.id.Less(node.id) {
		insertAfter = scan
		scan = scan.next
	}

	node.prev = insertAfter
	if insertAfter == nil {
		node.next = r.head
		if r.head != nil {
			r.head.prev = node
		}
		r.head = node
	} else {
		node.next = insertAfter.next
		if insertAfter.next != nil {
			insertAfter.next.prev = node
		}
		insertAfter.next = node
	}

	r.advanceSeqVector(node.id)
	r.replayPending(node.id)
}

// advanceSeqVector bumps the per-actor contiguous-seq counter used for the
// state vector, buffering ids that arrive out of seq order until the gap
// fills in (mirrors how a real CRDT library reassembles an actor's history
// regardless of network delivery order — spec §5 "no strict causal
// delivery across the network").
func (r *RGA) advanceSeqVector(id ID) {
	want := r.seqSeen[id.Actor]
	if id.Seq != want {
		if r.bufSeq[id.Actor] == nil {
			r.bufSeq[id.Actor] = make(map[uint64]*rgaNode)
		}
		r.bufSeq[id.Actor][id.Seq] = r.byID[id]
		return
	}

	r.seqSeen[id.Actor] = want + 1
	// Drain any now-contiguous buffered seqs (already integrated into the
	// list out of order; this only advances the reported state vector).
	for {
		next := r.seqSeen[id.Actor]
		if _, ok := r.bufSeq[id.Actor][next]; !ok {
			break
		}
		delete(r.bufSeq[id.Actor], next)
		r.seqSeen[id.Actor] = next + 1
	}
}

func (r *RGA) replayPending(id ID) {
	waiting := r.pending[id]
	if len(waiting) == 0 {
		return
	}
	delete(r.pending, id)
	for _, n := range waiting {
		r.integrate(n)
	}
}

// applyDelete tombstones the node with the given id if present locally;
// buffers nothing — a delete for an unseen id is dropped (it can only
// reference a node this replica will also insert via the accompanying
// struct section of the same update, processed first by ApplyUpdate).
func (r *RGA) applyDelete(id ID) {
	if n, ok := r.byID[id]; ok {
		n.deleted = true
	}
}

// EncodeStateVector returns this replica's per-actor contiguous op counts.
func (r *RGA) EncodeStateVector() []byte {
	e := newEncoder()
	e.writeUvarint(uint64(len(r.seqSeen)))
	for actor, seq := range r.seqSeen {
		e.writeUvarint(uint64(actor))
		e.writeUvarint(seq)
	}
	return e.bytes()
}

func decodeStateVector(b []byte) (map[ActorID]uint64, error) {
	d := newDecoder(b)
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	sv := make(map[ActorID]uint64, n)
	for i := uint64(0); i < n; i++ {
		actor, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		seq, err := d.readUvarint()
		if err != nil {
			return nil, err
		}
		sv[ActorID(actor)] = seq
	}
	return sv, nil
}

// EncodeStateAsUpdate returns every operation as an update (an empty state
// vector diff).
func (r *RGA) EncodeStateAsUpdate() []byte {
	out, _ := r.EncodeDiff(nil)
	return out
}

// EncodeDiff encodes every struct whose seq exceeds remoteSV[actor], plus a
// delete-set of ids deleted locally but not already covered by those
// structs (letting a peer who already has the insert learn about a delete
// that happened after they last synced).
func (r *RGA) EncodeDiff(remoteSV []byte) ([]byte, error) {
	sv := map[ActorID]uint64{}
	if len(remoteSV) > 0 {
		var err error
		sv, err = decodeStateVector(remoteSV)
		if err != nil {
			return nil, fmt.Errorf("crdt: decoding remote state vector: %w", err)
		}
	}

	byActor := map[ActorID][]*rgaNode{}
	for n := r.head; n != nil; n = n.next {
		if n.id.Seq >= sv[n.id.Actor] {
			byActor[n.id.Actor] = append(byActor[n.id.Actor], n)
		}
	}

	e := newEncoder()
	e.writeUvarint(uint64(len(byActor)))
	for actor, nodes := range byActor {
		e.writeUvarint(uint64(actor))
		e.writeUvarint(uint64(len(nodes)))
		for _, n := range nodes {
			e.writeUvarint(n.id.Seq)
			e.writeUvarint(uint64(n.origin.Actor))
			e.writeUvarint(n.origin.Seq)
			hasOrigin := uint64(0)
			if !n.origin.IsZero() {
				hasOrigin = 1
			}
			e.writeUvarint(hasOrigin)
			e.writeUvarint(uint64(n.value))
			deletedFlag := uint64(0)
			if n.deleted {
				deletedFlag = 1
			}
			e.writeUvarint(deletedFlag)
		}
	}

	// Delete set: ids already known to exceed the peer's SV are covered
	// above via the inline deleted flag, so the second section only needs
	// deletes of nodes the peer already has (seq < remoteSV[actor]).
	deletesByActor := map[ActorID][]uint64{}
	for n := r.head; n != nil; n = n.next {
		if n.deleted && n.id.Seq < sv[n.id.Actor] {
			deletesByActor[n.id.Actor] = append(deletesByActor[n.id.Actor], n.id.Seq)
		}
	}
	e.writeUvarint(uint64(len(deletesByActor)))
	for actor, seqs := range deletesByActor {
		e.writeUvarint(uint64(actor))
		e.writeUvarint(uint64(len(seqs)))
		for _, s := range seqs {
			e.writeUvarint(s)
		}
	}

	return e.bytes(), nil
}

// ApplyUpdate integrates structs and processes the delete set from update.
// Returns whether anything in the document actually changed (used by the
// sync manager's echo-suppression comparison).
func (r *RGA) ApplyUpdate(update []byte) (bool, error) {
	d := newDecoder(update)

	numActors, err := d.readUvarint()
	if err != nil {
		return false, fmt.Errorf("crdt: decoding rga update: %w", err)
	}

	changed := false
	for i := uint64(0); i < numActors; i++ {
		actor, err := d.readUvarint()
		if err != nil {
			return changed, fmt.Errorf("crdt: decoding rga update actor: %w", err)
		}
		count, err := d.readUvarint()
		if err != nil {
			return changed, fmt.Errorf("crdt: decoding rga update count: %w", err)
		}
		for j := uint64(0); j < count; j++ {
			seq, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga seq: %w", err)
			}
			originActor, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga origin actor: %w", err)
			}
			originSeq, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga origin seq: %w", err)
			}
			hasOrigin, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga has-origin flag: %w", err)
			}
			value, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga value: %w", err)
			}
			deletedFlag, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga deleted flag: %w", err)
			}

			id := ID{Actor: ActorID(actor), Seq: seq}
			if _, already := r.byID[id]; already {
				continue
			}

			var origin ID
			if hasOrigin == 1 {
				origin = ID{Actor: ActorID(originActor), Seq: originSeq}
			}

			node := &rgaNode{id: id, origin: origin, value: rune(value), deleted: deletedFlag == 1}
			r.integrate(node)
			changed = true

			if ActorID(actor) == r.actor && id.Seq >= r.clock {
				r.clock = id.Seq + 1
			}
		}
	}

	numDeleteActors, err := d.readUvarint()
	if err != nil {
		return changed, fmt.Errorf("crdt: decoding rga delete set: %w", err)
	}
	for i := uint64(0); i < numDeleteActors; i++ {
		actor, err := d.readUvarint()
		if err != nil {
			return changed, fmt.Errorf("crdt: decoding rga delete actor: %w", err)
		}
		count, err := d.readUvarint()
		if err != nil {
			return changed, fmt.Errorf("crdt: decoding rga delete count: %w", err)
		}
		for j := uint64(0); j < count; j++ {
			seq, err := d.readUvarint()
			if err != nil {
				return changed, fmt.Errorf("crdt: decoding rga delete seq: %w", err)
			}
			id := ID{Actor: ActorID(actor), Seq: seq}
			if n, ok := r.byID[id]; ok && !n.deleted {
				n.deleted = true
				changed = true
			}
		}
	}

	return changed, nil
}

// SetText replaces the visible text with newText by computing the longest
// common prefix and suffix against the current text and emitting exactly
// one delete run and one insert run spanning the divergence window (spec
// §4.3, §8 property 5). Operates on runes (Unicode code points), not bytes,
// so multi-byte characters never split mid-rune. newText is normalized to
// NFC first so a file re-read from an NFD filesystem (macOS) doesn't diff
// as a full-body rewrite against NFC content already in the document.
func (r *RGA) SetText(newText string) {
	old := []rune(r.Text())
	next := []rune(norm.NFC.String(newText))

	prefix := commonPrefixLen(old, next)
	suffix := commonSuffixLen(old[prefix:], next[prefix:])

	oldEnd := len(old) - suffix
	nextEnd := len(next) - suffix

	// Delete old[prefix:oldEnd], in reverse so indices stay valid.
	for i := oldEnd - 1; i >= prefix; i-- {
		r.localDelete(i)
	}
	// Insert next[prefix:nextEnd] at position prefix, left to right.
	for i, ch := range next[prefix:nextEnd] {
		r.localInsert(prefix+i, ch)
	}
}

func commonPrefixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func commonSuffixLen(a, b []rune) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}
