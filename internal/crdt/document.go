package crdt

// Document is the shared contract both RGA and LWWMap satisfy, letting the
// update store, sync manager, and property tests in §8 treat either
// structure uniformly.
type Document interface {
	EncodeStateVector() []byte
	EncodeStateAsUpdate() []byte
	EncodeDiff(remoteSV []byte) ([]byte, error)
	ApplyUpdate(update []byte) (changed bool, err error)
}

var (
	_ Document = (*RGA)(nil)
	_ Document = (*LWWMap)(nil)
)

// NewActorID returns a random actor id drawn from randUint64. The relay's
// roomFactory (cmd/diaryx-relayd) builds its actor id inline instead of
// calling this helper.
func NewActorID(randUint64 func() uint64) ActorID {
	return ActorID(randUint64())
}
