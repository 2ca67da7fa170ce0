package room

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/bodydoc"
	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/store"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

type fakeFileIndex struct {
	mu   sync.Mutex
	rows map[string]store.FileIndexEntry
}

func newFakeFileIndex() *fakeFileIndex {
	return &fakeFileIndex{rows: map[string]store.FileIndexEntry{}}
}

func (f *fakeFileIndex) UpsertFileIndex(ctx context.Context, e store.FileIndexEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[e.Path] = e
	return nil
}

func (f *fakeFileIndex) ListFileIndex(ctx context.Context) ([]store.FileIndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.FileIndexEntry, 0, len(f.rows))
	for _, e := range f.rows {
		out = append(out, e)
	}
	return out, nil
}

type recordedMessage struct {
	kind MessageKind
	data []byte
}

type fakeConn struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (c *fakeConn) Send(ctx context.Context, kind MessageKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, recordedMessage{kind: kind, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) last() recordedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[len(c.messages)-1]
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopLoader struct{}

func (noopLoader) LoadDocument(ctx context.Context, docName string, doc crdt.Document) error {
	return nil
}

func newTestRoom(t *testing.T) (*Room, *workspace.Document, *bodydoc.Manager) {
	t.Helper()
	r, ws, bodies, _ := newTestRoomWithIndex(t, nil)
	return r, ws, bodies
}

func newTestRoomWithIndex(t *testing.T, index FileIndex) (*Room, *workspace.Document, *bodydoc.Manager, FileIndex) {
	t.Helper()
	actor := crdt.ActorID(1)
	ws := workspace.New(actor)
	bodies, err := bodydoc.NewManager(actor, 64, noopLoader{}, nil, nil)
	require.NoError(t, err)

	tick := int64(0)
	r, err := New("ws1", ws, bodies, index, func() int64 { tick++; return tick }, discardLogger())
	require.NoError(t, err)
	return r, ws, bodies, index
}

func decodeControl[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRoom_Join_EmptyWorkspaceSkipsGate(t *testing.T) {
	r, _, _ := newTestRoom(t)
	ctx := context.Background()
	conn := &fakeConn{}

	require.NoError(t, r.Join(ctx, "c1", "user1", conn, false))

	last := conn.last()
	require.Equal(t, KindText, last.kind)
	state := decodeControl[wire.CrdtState](t, last.data)
	require.Equal(t, wire.TypeCrdtState, state.Type)
}

func TestRoom_Join_NonEmptyWorkspaceGatesUntilFilesReady(t *testing.T) {
	r, ws, _ := newTestRoom(t)
	ctx := context.Background()
	ws.CreateFile(workspace.FileMetadata{Filename: "note.md"})
	conn := &fakeConn{}

	require.NoError(t, r.Join(ctx, "c1", "user1", conn, false))
	manifest := decodeControl[wire.FileManifest](t, conn.last().data)
	require.Len(t, manifest.Files, 1)

	// Binary frames are dropped while gated.
	require.NoError(t, r.HandleBinary(ctx, "c1", wire.WrapBody("", wire.EncodeStep1(nil))))
	require.Equal(t, 1, conn.count())

	require.NoError(t, r.HandleControl(ctx, "c1", mustMarshal(t, wire.NewFilesReady())))
	state := decodeControl[wire.CrdtState](t, conn.last().data)
	require.Equal(t, wire.TypeCrdtState, state.Type)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestRoom_HandleBinary_BroadcastsWorkspaceUpdateToOtherClients(t *testing.T) {
	r, ws, _ := newTestRoom(t)
	ctx := context.Background()

	connA, connB := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Join(ctx, "a", "user1", connA, false))
	require.NoError(t, r.Join(ctx, "b", "user2", connB, false))

	_ = ws
	remote := workspace.New(crdt.ActorID(2))
	remote.CreateFile(workspace.FileMetadata{Filename: "new.md"})
	update := remote.EncodeStateAsUpdate()

	before := connB.count()
	require.NoError(t, r.HandleBinary(ctx, "a", wire.WrapBody("", wire.EncodeUpdate(update))))
	require.Greater(t, connB.count(), before)

	last := connB.last()
	require.Equal(t, KindBinary, last.kind)
	path, inner, err := wire.UnwrapBody(last.data)
	require.NoError(t, err)
	require.Equal(t, "", path)
	msgs, err := wire.Decode(inner)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, wire.Update, msgs[0].Subtype)
}

func TestRoom_HandleBinary_BodyFrameRoutesByPath(t *testing.T) {
	r, ws, bodies := newTestRoom(t)
	ctx := context.Background()
	ws.CreateFile(workspace.FileMetadata{Filename: "note.md"})

	connA, connB := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Join(ctx, "a", "user1", connA, false))
	require.NoError(t, r.Join(ctx, "b", "user2", connB, false))

	_ = bodies
	remote := bodydoc.New(crdt.ActorID(2), "remote", nil)
	remote.SetBody("hello")
	update := remote.EncodeStateAsUpdate()

	before := connB.count()
	require.NoError(t, r.HandleBinary(ctx, "a", wire.WrapBody("note.md", wire.EncodeUpdate(update))))
	require.Greater(t, connB.count(), before)

	path, _, err := wire.UnwrapBody(connB.last().data)
	require.NoError(t, err)
	require.Equal(t, "note.md", path)
}

func TestRoom_Focus_BroadcastsAggregateList(t *testing.T) {
	r, ws, _ := newTestRoom(t)
	ctx := context.Background()
	ws.CreateFile(workspace.FileMetadata{Filename: "note.md"})

	connA, connB := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Join(ctx, "a", "user1", connA, false))
	require.NoError(t, r.Join(ctx, "b", "user2", connB, false))

	require.NoError(t, r.HandleControl(ctx, "a", mustMarshal(t, wire.NewFocus("note.md"))))

	last := decodeControl[wire.FocusListChanged](t, connB.last().data)
	require.Equal(t, []string{"note.md"}, last.Files)
}

func TestRoom_ShareSession_ReadOnlyBlocksNonOwnerWrites(t *testing.T) {
	r, ws, _ := newTestRoom(t)
	ctx := context.Background()
	ws.CreateFile(workspace.FileMetadata{Filename: "note.md"})
	r.AttachSession(NewShareSession("owner", "code123", true))

	connOwner, connGuest := &fakeConn{}, &fakeConn{}
	require.NoError(t, r.Join(ctx, "owner", "owner", connOwner, false))
	require.NoError(t, r.Join(ctx, "guest", "guest", connGuest, true))

	update := ws.EncodeStateAsUpdate()
	before := connOwner.count()
	require.NoError(t, r.HandleBinary(ctx, "guest", wire.WrapBody("", wire.EncodeUpdate(update))))
	require.Equal(t, before, connOwner.count())
}

func TestRoom_HandleBinary_UpdatesFileIndexAndConsultsItForManifest(t *testing.T) {
	index := newFakeFileIndex()
	r, ws, _, _ := newTestRoomWithIndex(t, index)
	ctx := context.Background()
	ws.CreateFile(workspace.FileMetadata{Filename: "note.md"})

	connA := &fakeConn{}
	require.NoError(t, r.Join(ctx, "a", "user1", connA, false))
	require.NoError(t, r.HandleControl(ctx, "a", mustMarshal(t, wire.NewFilesReady())))

	remote := workspace.New(crdt.ActorID(2))
	remote.CreateFile(workspace.FileMetadata{Filename: "second.md"})
	update := remote.EncodeStateAsUpdate()
	require.NoError(t, r.HandleBinary(ctx, "a", wire.WrapBody("", wire.EncodeUpdate(update))))

	rows, err := index.ListFileIndex(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "second.md", rows[0].Path)

	conn := &fakeConn{}
	require.NoError(t, r.Join(ctx, "c1", "user1", conn, false))
	manifest := decodeControl[wire.FileManifest](t, conn.last().data)

	names := map[string]bool{}
	for _, f := range manifest.Files {
		names[f.Filename] = true
	}
	require.True(t, names["second.md"])
	require.False(t, names["note.md"]) // note.md never went through HandleBinary, so it has no file_index row
}

func TestHub_CreatesOnceAndTearsDownWhenEmpty(t *testing.T) {
	ctx := context.Background()
	torn := false
	var created int
	factory := func(ctx context.Context, workspaceID string) (*Room, func() error, error) {
		created++
		r, ws, _ := newTestRoom(t)
		_ = ws
		return r, func() error { torn = true; return nil }, nil
	}
	h := NewHub(factory, discardLogger())

	r1, err := h.GetOrCreate(ctx, "ws1")
	require.NoError(t, err)
	r2, err := h.GetOrCreate(ctx, "ws1")
	require.NoError(t, err)
	require.Same(t, r1, r2)
	require.Equal(t, 1, created)

	require.NoError(t, r1.Join(ctx, "c1", "user1", &fakeConn{}, false))
	h.Leave(ctx, "ws1", "c1")

	require.True(t, torn)
	require.Equal(t, 0, h.Len())
}
