package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeControl_RoundTrip(t *testing.T) {
	title := "Daily Note"
	msg := NewFileManifest([]ManifestEntry{
		{DocID: "doc-1", Filename: "index.md", Title: &title, Deleted: false},
	}, true)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	decoded, err := DecodeControl(raw)
	require.NoError(t, err)

	fm, ok := decoded.(*FileManifest)
	require.True(t, ok)
	require.True(t, fm.ClientIsNew)
	require.Len(t, fm.Files, 1)
	require.Equal(t, "doc-1", fm.Files[0].DocID)
	require.Equal(t, "Daily Note", *fm.Files[0].Title)
}

func TestDecodeControl_UnknownType(t *testing.T) {
	_, err := DecodeControl([]byte(`{"type":"bogus"}`))
	require.Error(t, err)
	var typed *UnknownControlTypeError
	require.ErrorAs(t, err, &typed)
}

func TestDecodeControl_SyncProgress(t *testing.T) {
	raw, err := json.Marshal(NewSyncProgress(3, 10))
	require.NoError(t, err)

	decoded, err := DecodeControl(raw)
	require.NoError(t, err)
	sp, ok := decoded.(*SyncProgress)
	require.True(t, ok)
	require.Equal(t, 3, sp.Completed)
	require.Equal(t, 10, sp.Total)
}
