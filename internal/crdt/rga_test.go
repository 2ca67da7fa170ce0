package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRGA_EmptyUpdateSentinel(t *testing.T) {
	r := NewRGA(1)
	r.SetText("hello")

	sv := r.EncodeStateVector()
	diff, err := r.EncodeDiff(sv)
	require.NoError(t, err)
	require.Len(t, diff, EmptyUpdateSentinelLen)
}

func TestRGA_NonEmptySentinel(t *testing.T) {
	a := NewRGA(1)
	b := NewRGA(2)
	a.SetText("hello")
	b.SetText("world")

	diff, err := a.EncodeDiff(b.EncodeStateVector())
	require.NoError(t, err)
	require.Greater(t, len(diff), EmptyUpdateSentinelLen)
}

func TestRGA_Convergence(t *testing.T) {
	a := NewRGA(1)
	b := NewRGA(2)

	a.SetText("Hello World")
	upd, err := a.EncodeDiff(b.EncodeStateVector())
	require.NoError(t, err)
	_, err = b.ApplyUpdate(upd)
	require.NoError(t, err)
	require.Equal(t, "Hello World", b.Text())

	// Concurrent edits from both sides.
	a.localInsert(0, 'A')
	a.localInsert(1, ':')
	a.localInsert(2, ' ')
	b.localInsert(b.Len(), '!')

	aUpd, err := a.EncodeDiff(nil)
	require.NoError(t, err)
	bUpd, err := b.EncodeDiff(nil)
	require.NoError(t, err)

	_, err = b.ApplyUpdate(aUpd)
	require.NoError(t, err)
	_, err = a.ApplyUpdate(bUpd)
	require.NoError(t, err)

	require.Equal(t, a.Text(), b.Text())
	require.Contains(t, a.Text(), "A: ")
	require.Contains(t, a.Text(), "!")
}

func TestRGA_SetTextMinimalDiff(t *testing.T) {
	r := NewRGA(1)
	r.SetText("Hello World")
	before := snapshotIDs(r)

	r.SetText("Hello Beautiful World")

	after := snapshotIDs(r)
	// "Hello " (0-5) and " World" (suffix) keep identical operation ids.
	for i := 0; i < 6; i++ {
		require.Equal(t, before[i], after[i], "prefix id %d must be stable", i)
	}
	require.Equal(t, "Hello Beautiful World", r.Text())
}

func snapshotIDs(r *RGA) []ID {
	var ids []ID
	for n := r.head; n != nil; n = n.next {
		if !n.deleted {
			ids = append(ids, n.id)
		}
	}
	return ids
}

func TestRGA_OutOfOrderDelivery(t *testing.T) {
	a := NewRGA(1)
	b := NewRGA(2)
	c := NewRGA(3)

	a.SetText("X")
	upd1, _ := a.EncodeDiff(nil)
	svAfterX := a.EncodeStateVector()
	a.localInsert(a.Len(), 'Y')
	upd2, _ := a.EncodeDiff(nil)
	onlyY, _ := a.EncodeDiff(svAfterX)

	// c receives the full state (upd2) and b only the first update (upd1);
	// each reconstructs the text it was sent.
	_, err := c.ApplyUpdate(upd2)
	require.NoError(t, err)
	require.Equal(t, "XY", c.Text())

	_, err = b.ApplyUpdate(upd1)
	require.NoError(t, err)
	require.Equal(t, "X", b.Text())

	// d receives the Y insert before the X it follows: Y waits for its
	// origin, then both integrate in order once X arrives.
	d := NewRGA(4)
	_, err = d.ApplyUpdate(onlyY)
	require.NoError(t, err)
	require.Equal(t, "", d.Text())

	_, err = d.ApplyUpdate(upd1)
	require.NoError(t, err)
	require.Equal(t, "XY", d.Text())
}
