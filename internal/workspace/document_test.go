package workspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

func TestDocument_CreateAndFind(t *testing.T) {
	d := New(1)
	docID := d.CreateFile(FileMetadata{Filename: "index.md", ModifiedAt: 1})

	got, ok := d.GetFile(docID)
	require.True(t, ok)
	require.Equal(t, "index.md", got.Filename)

	path, ok := d.CanonicalPathFor(docID)
	require.True(t, ok)
	require.Equal(t, "index.md", path)

	found, ok := d.FindByPath("index.md")
	require.True(t, ok)
	require.Equal(t, docID, found)
}

func TestDocument_RenamePreservesIdentifier(t *testing.T) {
	d := New(1)
	parent := d.CreateFile(FileMetadata{Filename: "index.md", ModifiedAt: 1})
	child := d.CreateFile(FileMetadata{Filename: "old.md", PartOf: parent, ModifiedAt: 1})
	d.SetContents(parent, []string{child}, 1)

	oldPath, _ := d.CanonicalPathFor(child)
	require.Equal(t, "index.md/old.md", oldPath)

	d.RenameFile(child, "new.md", 2)

	newPath, ok := d.CanonicalPathFor(child)
	require.True(t, ok)
	require.Equal(t, "index.md/new.md", newPath)

	found, ok := d.FindByPath(newPath)
	require.True(t, ok)
	require.Equal(t, child, found, "identifier must be unchanged across rename")
}

func TestDocument_ApplyUpdateTrackingChanges_DetectsRename(t *testing.T) {
	a := New(1)
	parent := a.CreateFile(FileMetadata{Filename: "index.md", ModifiedAt: 1})
	child := a.CreateFile(FileMetadata{Filename: "old.md", PartOf: parent, ModifiedAt: 1})
	a.SetContents(parent, []string{child}, 1)

	b := New(2)
	upd, err := a.EncodeDiff(b.EncodeStateVector())
	require.NoError(t, err)
	_, _, _, err = b.ApplyUpdateTrackingChanges(upd, crdt.OriginSync)
	require.NoError(t, err)

	a.RenameFile(child, "new.md", 2)
	upd2, err := a.EncodeDiff(b.EncodeStateVector())
	require.NoError(t, err)

	applied, changedPaths, renames, err := b.ApplyUpdateTrackingChanges(upd2, crdt.OriginRemote)
	require.NoError(t, err)
	require.True(t, applied)
	require.Len(t, renames, 1)
	require.Equal(t, "index.md/old.md", renames[0].OldPath)
	require.Equal(t, "index.md/new.md", renames[0].NewPath)
	require.Contains(t, changedPaths, "index.md/new.md")
}

func TestDocument_DeleteTombstone(t *testing.T) {
	d := New(1)
	docID := d.CreateFile(FileMetadata{Filename: "a.md", ModifiedAt: 1})
	d.DeleteFile(docID, 2)

	meta, ok := d.GetFile(docID)
	require.True(t, ok)
	require.True(t, meta.Deleted)
	require.Len(t, d.ListFiles(), 1)
	require.Empty(t, d.ListActiveFiles())
}
