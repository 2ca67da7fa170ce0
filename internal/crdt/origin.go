// Package crdt implements the two replicated data structures the sync
// engine is built on: a replicated growable array (RGA) for body text, and
// a last-writer-wins register map for workspace metadata. Both share one wire envelope so every consumer — the sync
// manager, the server room, the tests in §8 — can rely on a single
// "empty update is exactly two bytes" sentinel regardless of which
// structure produced it.
//
// Grounded on the RGA sketched in the example pack's crdtcollab project
// (other_examples, Polqt-golang-journey) generalized from single-document
// collaborative text to the multi-actor, tombstone-aware, causally-buffered
// form the spec's convergence properties (§8) require.
package crdt

// UpdateOrigin records why a document is being mutated. Local mutations
// trigger the owning document's outgoing-update observer (§4.3); Remote and
// Sync mutations never do. Persistence and broadcasting treat all three
// identically (§3).
type UpdateOrigin int

const (
	OriginLocal UpdateOrigin = iota
	OriginRemote
	OriginSync
)

func (o UpdateOrigin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginSync:
		return "sync"
	default:
		return "unknown"
	}
}

// IsLocal reports whether an apply_update with this origin should fire the
// outgoing observer (§4.3).
func (o UpdateOrigin) IsLocal() bool {
	return o == OriginLocal
}
