package syncmanager

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/bodydoc"
	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/wire"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

type noopLoader struct{}

func (noopLoader) LoadDocument(ctx context.Context, docName string, doc crdt.Document) error {
	return nil
}

type fakeHandler struct {
	mu        sync.Mutex
	written   map[string]string
	removed   map[string]bool
	moved     [][2]string
	syncWrite map[string]bool
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{written: map[string]string{}, removed: map[string]bool{}, syncWrite: map[string]bool{}}
}

func (f *fakeHandler) MarkSyncWrite(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncWrite[path] = true
}

func (f *fakeHandler) WriteFile(path string, meta workspace.FileMetadata, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[path] = body
	return nil
}

func (f *fakeHandler) RemoveFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed[path] = true
	return nil
}

func (f *fakeHandler) MoveFile(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moved = append(f.moved, [2]string{oldPath, newPath})
	return nil
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestManager(t *testing.T, actor crdt.ActorID, workspaceID string, handler SyncHandler) (*Manager, *[]Event) {
	t.Helper()
	ws := workspace.New(actor)
	events := &[]Event{}
	var mgr *Manager
	bodies, err := bodydoc.NewManager(actor, 0, noopLoader{}, func(docName string, update []byte) {
		mgr.BodyObserver(docName, update)
	}, discardLogger())
	require.NoError(t, err)

	mgr = New(workspaceID, ws, bodies, handler, func(e Event) { *events = append(*events, e) }, discardLogger())
	return mgr, events
}

func TestManager_WorkspaceStep1ProducesStep2AndStep1(t *testing.T) {
	mgr, _ := newTestManager(t, 1, "ws1", nil)

	other := workspace.New(2)
	other.CreateFile(workspace.FileMetadata{Filename: "index.md", ModifiedAt: 1})

	result, err := mgr.HandleWorkspaceMessage(wire.EncodeStep1(other.EncodeStateVector()), false)
	require.NoError(t, err)
	msgs, err := wire.Decode(result.Response)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, wire.Step2, msgs[0].Subtype)
	require.Equal(t, wire.Step1, msgs[1].Subtype)
}

func TestManager_LocalWorkspaceMutationBroadcastsAutomatically(t *testing.T) {
	mgr, events := newTestManager(t, 1, "ws1", nil)

	mgr.Workspace().CreateFile(workspace.FileMetadata{Filename: "a.md", ModifiedAt: 1})

	require.Len(t, *events, 1)
	msg, ok := (*events)[0].(SendSyncMessage)
	require.True(t, ok)
	require.False(t, msg.IsBody)
	require.Equal(t, "workspace:ws1", msg.DocName)

	msgs, err := wire.Decode(msg.Bytes)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, wire.Update, msgs[0].Subtype)
}

func TestManager_LocalBodyMutationBroadcastsAutomatically(t *testing.T) {
	mgr, events := newTestManager(t, 1, "ws1", nil)

	doc, err := mgr.Bodies().Get(context.Background(), bodyDocName("ws1", "a.md"))
	require.NoError(t, err)
	doc.SetBody("hello")

	require.Len(t, *events, 1)
	msg, ok := (*events)[0].(SendSyncMessage)
	require.True(t, ok)
	require.True(t, msg.IsBody)

	path, inner, err := wire.UnwrapBody(msg.Bytes)
	require.NoError(t, err)
	require.Equal(t, "a.md", path)

	msgs, err := wire.Decode(inner)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, wire.Update, msgs[0].Subtype)
}

func TestManager_HandleBodyMessage_RealEditEmitsContentsChanged(t *testing.T) {
	handler := newFakeHandler()
	mgr, events := newTestManager(t, 1, "ws1", handler)

	remote := bodydocNewForTest(t, 2)
	remote.SetBody("hello world")

	frame := wire.EncodeUpdate(remote.EncodeStateAsUpdate())

	result, err := mgr.HandleBodyMessage(context.Background(), "notes/a.md", frame, false)
	require.NoError(t, err)
	require.False(t, result.IsEcho)
	require.NotNil(t, result.Content)
	require.Equal(t, "hello world", *result.Content)

	require.Len(t, *events, 1)
	cc, ok := (*events)[0].(ContentsChanged)
	require.True(t, ok)
	require.Equal(t, "notes/a.md", cc.Path)
	require.Equal(t, "hello world", cc.NewBody)
}

func TestManager_HandleBodyMessage_EchoSuppressed(t *testing.T) {
	mgr, events := newTestManager(t, 1, "ws1", nil)

	mgr.TrackContent("notes/a.md", "hello world")

	remote := bodydocNewForTest(t, 2)
	remote.SetBody("hello world")
	frame := wire.EncodeUpdate(remote.EncodeStateAsUpdate())

	result, err := mgr.HandleBodyMessage(context.Background(), "notes/a.md", frame, false)
	require.NoError(t, err)
	require.True(t, result.IsEcho)
	require.Nil(t, result.Content)
	require.Empty(t, *events)
}

func bodydocNewForTest(t *testing.T, actor crdt.ActorID) *bodydoc.Document {
	t.Helper()
	return bodydoc.New(actor, "scratch", nil)
}

func TestManager_Reset_PreservesFocus(t *testing.T) {
	mgr, _ := newTestManager(t, 1, "ws1", nil)
	mgr.Focus("notes/a.md")
	mgr.TrackContent("notes/a.md", "x")

	mgr.Reset()

	require.Equal(t, []string{"notes/a.md"}, mgr.FocusedPaths())
}

func TestManager_Shutdown_ClearsEventCallback(t *testing.T) {
	mgr, events := newTestManager(t, 1, "ws1", nil)
	mgr.Shutdown()

	mgr.Workspace().CreateFile(workspace.FileMetadata{Filename: "a.md", ModifiedAt: 1})

	require.Empty(t, *events, "no event should fire once the callback is cleared")
}
