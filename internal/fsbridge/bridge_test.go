package fsbridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/bodydoc"
	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
	"github.com/diaryx-dev/diaryx-sync/internal/syncmanager"
	"github.com/diaryx-dev/diaryx-sync/internal/workspace"
)

// fakeFilesystem is an in-memory Filesystem used so tests never touch disk.
type fakeFilesystem struct {
	files map[string][]byte
}

func newFakeFilesystem() *fakeFilesystem {
	return &fakeFilesystem{files: map[string][]byte{}}
}

func (f *fakeFilesystem) WriteFile(path string, content []byte) error {
	cp := make([]byte, len(content))
	copy(cp, content)
	f.files[path] = cp
	return nil
}

func (f *fakeFilesystem) ReadFile(path string) ([]byte, error) {
	b, ok := f.files[path]
	if !ok {
		return nil, errNotExist{path}
	}
	return b, nil
}

func (f *fakeFilesystem) Remove(path string) error {
	delete(f.files, path)
	return nil
}

func (f *fakeFilesystem) Rename(oldPath, newPath string) error {
	b, ok := f.files[oldPath]
	if !ok {
		return errNotExist{oldPath}
	}
	f.files[newPath] = b
	delete(f.files, oldPath)
	return nil
}

func (f *fakeFilesystem) MkdirAll(dir string) error { return nil }

type errNotExist struct{ path string }

func (e errNotExist) Error() string { return "fsbridge: no such file: " + e.path }

type noopLoader struct{}

func (noopLoader) LoadDocument(ctx context.Context, docName string, doc crdt.Document) error {
	return nil
}

func newTestBridge(t *testing.T, mode Mode) (*Bridge, *fakeFilesystem, *syncmanager.Manager) {
	t.Helper()

	actor := crdt.ActorID(1)
	ws := workspace.New(actor)

	var mgr *syncmanager.Manager
	bodies, err := bodydoc.NewManager(actor, 64, noopLoader{}, func(docName string, update []byte) {
		mgr.BodyObserver(docName, update)
	}, nil)
	require.NoError(t, err)

	fs := newFakeFilesystem()
	mgr = syncmanager.New("ws1", ws, bodies, nil, nil, nil)

	b := New(fs, mgr, mode, nil, nil)
	return b, fs, mgr
}

const sampleDoc = "---\ntitle: Hello\n---\nbody text\n"

func TestBridge_WriteLocal_CreatesMetadataAndBody(t *testing.T) {
	b, fs, mgr := newTestBridge(t, ModeDocID)
	ctx := context.Background()

	require.NoError(t, b.WriteLocal(ctx, "note.md", []byte(sampleDoc)))

	require.Contains(t, fs.files, "note.md")

	ws := mgr.Workspace()
	docID, ok := ws.FindByPath("note.md")
	require.True(t, ok)
	meta, ok := ws.GetFile(docID)
	require.True(t, ok)
	require.Equal(t, "Hello", meta.Title)
	require.Equal(t, "note.md", meta.Filename)

	doc, err := mgr.Bodies().Get(ctx, bodyDocName(mgr.WorkspaceID(), "note.md"))
	require.NoError(t, err)
	require.Equal(t, "body text\n", doc.Body())
}

func TestBridge_WriteLocal_SkipsTempFiles(t *testing.T) {
	b, fs, mgr := newTestBridge(t, ModeDocID)
	ctx := context.Background()

	require.NoError(t, b.WriteLocal(ctx, "note.md.tmp", []byte(sampleDoc)))

	require.Contains(t, fs.files, "note.md.tmp")
	_, ok := mgr.Workspace().FindByPath("note.md.tmp")
	require.False(t, ok)
}

func TestBridge_WriteLocal_SyncWriteSkipsCrdtUpdate(t *testing.T) {
	b, fs, mgr := newTestBridge(t, ModeDocID)
	ctx := context.Background()

	b.MarkSyncWrite("note.md")
	require.NoError(t, b.WriteLocal(ctx, "note.md", []byte(sampleDoc)))

	require.Contains(t, fs.files, "note.md")
	require.Equal(t, 0, mgr.Workspace().FileCount())
}

func TestBridge_DeleteLocal_TombstonesAndRemoves(t *testing.T) {
	b, fs, mgr := newTestBridge(t, ModeDocID)
	ctx := context.Background()

	require.NoError(t, b.WriteLocal(ctx, "note.md", []byte(sampleDoc)))
	require.NoError(t, b.DeleteLocal(ctx, "note.md"))

	_, stillOnDisk := fs.files["note.md"]
	require.False(t, stillOnDisk)

	for _, meta := range mgr.Workspace().ListFiles() {
		if meta.Filename == "note.md" {
			require.True(t, meta.Deleted)
		}
	}
}

func TestBridge_MoveLocal_DocIDModePreservesIdentity(t *testing.T) {
	b, fs, mgr := newTestBridge(t, ModeDocID)
	ctx := context.Background()

	require.NoError(t, b.WriteLocal(ctx, "note.md", []byte(sampleDoc)))
	docIDBefore, ok := mgr.Workspace().FindByPath("note.md")
	require.True(t, ok)

	require.NoError(t, b.MoveLocal(ctx, "note.md", "renamed.md"))

	require.NotContains(t, fs.files, "note.md")
	require.Contains(t, fs.files, "renamed.md")

	docIDAfter, ok := mgr.Workspace().FindByPath("renamed.md")
	require.True(t, ok)
	require.Equal(t, docIDBefore, docIDAfter)
}

func TestBridge_MoveLocal_LegacyModeDropsStaleDestinationBody(t *testing.T) {
	b, fs, mgr := newTestBridge(t, ModeLegacyPathKey)
	ctx := context.Background()

	// A prior, unrelated file already lives at the destination path.
	require.NoError(t, b.WriteLocal(ctx, "dest.md", []byte("---\ntitle: Old\n---\nstale\n")))
	require.NoError(t, b.WriteLocal(ctx, "src.md", []byte(sampleDoc)))

	destBodyName := bodyDocName(mgr.WorkspaceID(), "dest.md")
	staleDoc, err := mgr.Bodies().Get(ctx, destBodyName)
	require.NoError(t, err)
	require.Equal(t, "stale\n", staleDoc.Body())

	require.NoError(t, b.MoveLocal(ctx, "src.md", "dest.md"))

	require.NotContains(t, fs.files, "src.md")
	require.Contains(t, fs.files, "dest.md")

	// The destination body doc must now hold the moved file's content, not
	// the stale prior owner's.
	movedDoc, err := mgr.Bodies().Get(ctx, bodyDocName(mgr.WorkspaceID(), "dest.md"))
	require.NoError(t, err)
	require.Equal(t, "body text\n", movedDoc.Body())

	meta, ok := mgr.Workspace().GetFile("dest.md")
	require.True(t, ok)
	require.False(t, meta.Deleted)
}

func TestMergeAttachments_PreservesHashWhenIncomingEmpty(t *testing.T) {
	existing := []workspace.BinaryRef{
		{Path: "img.png", Hash: "abc123", MimeType: "image/png", Size: 42, UploadedAt: 100},
	}
	incoming := []workspace.BinaryRef{
		{Path: "img.png", Source: "./img.png"},
	}

	merged := mergeAttachments(existing, incoming)
	require.Len(t, merged, 1)
	require.Equal(t, "abc123", merged[0].Hash)
	require.Equal(t, "image/png", merged[0].MimeType)
	require.Equal(t, int64(42), merged[0].Size)
	require.Equal(t, "./img.png", merged[0].Source)
}

func TestMergeAttachments_KeepsIncomingHashWhenPresent(t *testing.T) {
	existing := []workspace.BinaryRef{
		{Path: "img.png", Hash: "old", MimeType: "image/png"},
	}
	incoming := []workspace.BinaryRef{
		{Path: "img.png", Hash: "new", MimeType: "image/png"},
	}

	merged := mergeAttachments(existing, incoming)
	require.Len(t, merged, 1)
	require.Equal(t, "new", merged[0].Hash)
}

func TestIsTempFile(t *testing.T) {
	require.True(t, IsTempFile("note.md.tmp"))
	require.True(t, IsTempFile("note.md.bak"))
	require.False(t, IsTempFile("note.md"))
}
