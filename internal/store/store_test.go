package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "workspace.db")
	s, err := Open(context.Background(), dbPath, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendAndReplay(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := crdt.NewRGA(1)
	doc.SetText("hello")
	upd := doc.EncodeStateAsUpdate()

	require.NoError(t, s.AppendUpdate(ctx, "body:ws/a.md", upd, crdt.OriginLocal, 1))

	replayed := crdt.NewRGA(2)
	require.NoError(t, s.LoadDocument(ctx, "body:ws/a.md", replayed))
	require.Equal(t, "hello", replayed.Text())
}

func TestStore_CorruptUpdateSkipped(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := crdt.NewRGA(1)
	doc.SetText("ok")
	good := doc.EncodeStateAsUpdate()

	require.NoError(t, s.AppendUpdate(ctx, "d", []byte{0xff}, crdt.OriginLocal, 1))
	require.NoError(t, s.AppendUpdate(ctx, "d", good, crdt.OriginLocal, 2))

	replayed := crdt.NewRGA(2)
	require.NoError(t, s.LoadDocument(ctx, "d", replayed))
	require.Equal(t, "ok", replayed.Text())
}

func TestStore_FileIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.UpsertFileIndex(ctx, FileIndexEntry{
		Path: "notes/a.md", DocID: "doc-1", Title: "A", ModifiedAt: 100,
	}))
	require.NoError(t, s.UpsertFileIndex(ctx, FileIndexEntry{
		Path: "notes/b.md", DocID: "doc-2", Title: "B", Deleted: true, ModifiedAt: 200,
	}))

	entries, err := s.ListFileIndex(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, s.ClearFileIndex(ctx))
	entries, err = s.ListFileIndex(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}
