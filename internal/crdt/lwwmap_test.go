package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLWWMap_EmptySentinel(t *testing.T) {
	m := NewLWWMap(1)
	m.Set("title", []byte("hi"))

	diff, err := m.EncodeDiff(m.EncodeStateVector())
	require.NoError(t, err)
	require.Len(t, diff, EmptyUpdateSentinelLen)
}

func TestLWWMap_ConvergenceLastWriterWins(t *testing.T) {
	a := NewLWWMap(1)
	b := NewLWWMap(2)

	a.Set("title", []byte("from-a"))
	upd, err := a.EncodeDiff(b.EncodeStateVector())
	require.NoError(t, err)
	_, err = b.ApplyUpdate(upd)
	require.NoError(t, err)

	// Concurrent writes to the same key.
	a.Set("title", []byte("a-wins-by-higher-seq"))
	b.Set("title", []byte("b-writes-too"))

	aUpd, err := a.EncodeDiff(nil)
	require.NoError(t, err)
	bUpd, err := b.EncodeDiff(nil)
	require.NoError(t, err)

	_, err = b.ApplyUpdate(aUpd)
	require.NoError(t, err)
	_, err = a.ApplyUpdate(bUpd)
	require.NoError(t, err)

	av, _ := a.Get("title")
	bv, _ := b.Get("title")
	require.Equal(t, string(av), string(bv), "both replicas must converge on the same winner")
}

func TestLWWMap_Delete(t *testing.T) {
	m := NewLWWMap(1)
	m.Set("k", []byte("v"))
	_, ok := m.Get("k")
	require.True(t, ok)

	m.Delete("k")
	v, ok := m.Get("k")
	require.True(t, ok)
	require.Nil(t, v)
}
