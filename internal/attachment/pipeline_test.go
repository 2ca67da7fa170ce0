package attachment

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/diaryx-dev/diaryx-sync/internal/attachment/blobstore"
)

// fakeBlobClient is an in-memory BlobClient so tests never touch a real
// object-store endpoint.
type fakeBlobClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	parts   map[string]map[int][]byte // uploadID -> partNo -> data
	aborted map[string]bool
}

func newFakeBlobClient() *fakeBlobClient {
	return &fakeBlobClient{
		objects: map[string][]byte{},
		parts:   map[string]map[int][]byte{},
		aborted: map[string]bool{},
	}
}

func (f *fakeBlobClient) NewMultipartUpload(ctx context.Context, hash, mimeType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "upload-" + hash
	f.parts[id] = map[int][]byte{}
	return id, nil
}

func (f *fakeBlobClient) UploadPart(ctx context.Context, hash, uploadID string, partNo int, r io.Reader, size int64) (blobstore.Part, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return blobstore.Part{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[uploadID][partNo] = data
	return blobstore.Part{PartNumber: partNo, ETag: "etag", Size: int64(len(data))}, nil
}

func (f *fakeBlobClient) CompleteMultipartUpload(ctx context.Context, hash, uploadID string, parts []blobstore.Part) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(f.parts[uploadID][p.PartNumber])
	}
	f.objects[hash] = buf.Bytes()
	return nil
}

func (f *fakeBlobClient) AbortMultipartUpload(ctx context.Context, hash, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted[uploadID] = true
	delete(f.parts, uploadID)
	return nil
}

func (f *fakeBlobClient) PutObject(ctx context.Context, hash string, r io.Reader, size int64, mimeType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[hash] = data
	return nil
}

func (f *fakeBlobClient) GetObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return io.NopCloser(bytes.NewReader(f.objects[hash])), nil
}

func (f *fakeBlobClient) RemoveObject(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, hash)
	return nil
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), ":memory:", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestPipeline_UploadCompleteAndCommit(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	blobs := newFakeBlobClient()

	tick := int64(1000)
	clock := func() int64 { tick++; return tick }

	p := NewPipeline(ledger, blobs, clock, discardLogger())

	sess, err := p.CreateSession(ctx, "user1", "ws1", "img.png", "image/png", 3600)
	require.NoError(t, err)

	payload := []byte("attachment bytes")
	require.NoError(t, p.UploadPart(ctx, sess.UploadID, 1, payload))

	result, err := p.Complete(ctx, sess.UploadID, 1_000_000)
	require.NoError(t, err)
	require.True(t, result.NewToUser)
	require.Equal(t, int64(len(payload)), result.Size)

	used, err := ledger.UsedBytes(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, int64(0), used) // no WorkspaceAttachmentRef committed yet, ref_count still 0

	require.NoError(t, ledger.ReplaceWorkspaceAttachmentRefs(ctx, "ws1", []WorkspaceAttachmentRef{
		{WorkspaceID: "ws1", Path: "img.png", Hash: result.Hash, UserID: "user1"},
	}, clock()))

	used, err = ledger.UsedBytes(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, result.Size, used)
}

func TestPipeline_CompleteOverQuotaFails(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	blobs := newFakeBlobClient()
	tick := int64(1000)
	clock := func() int64 { tick++; return tick }
	p := NewPipeline(ledger, blobs, clock, discardLogger())

	sess, err := p.CreateSession(ctx, "user1", "ws1", "big.bin", "application/octet-stream", 3600)
	require.NoError(t, err)
	require.NoError(t, p.UploadPart(ctx, sess.UploadID, 1, bytes.Repeat([]byte{0xAB}, 100)))

	_, err = p.Complete(ctx, sess.UploadID, 10)
	require.Error(t, err)

	var qe interface{ Error() string }
	require.ErrorAs(t, err, &qe)
}

func TestPipeline_Abort(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	blobs := newFakeBlobClient()
	tick := int64(1000)
	p := NewPipeline(ledger, blobs, func() int64 { tick++; return tick }, discardLogger())

	sess, err := p.CreateSession(ctx, "user1", "ws1", "note.md.png", "image/png", 3600)
	require.NoError(t, err)
	require.NoError(t, p.Abort(ctx, sess.UploadID))

	require.True(t, blobs.aborted[sess.ObjectKey])
	_, err = ledger.GetSession(ctx, sess.UploadID)
	require.Error(t, err)
}

func TestReplaceWorkspaceAttachmentRefs_SymmetricDifference(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(t)
	now := int64(100)

	require.NoError(t, ledger.UpsertBlob(ctx, nil, "user1", "hash-a", 10, "text/plain", now))
	require.NoError(t, ledger.UpsertBlob(ctx, nil, "user1", "hash-b", 20, "text/plain", now))

	require.NoError(t, ledger.ReplaceWorkspaceAttachmentRefs(ctx, "ws1", []WorkspaceAttachmentRef{
		{WorkspaceID: "ws1", Path: "a.png", Hash: "hash-a", UserID: "user1"},
	}, now))

	used, err := ledger.UsedBytes(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, int64(10), used)

	// Replace the edge set: drop a.png, add b.png pointing at hash-b.
	require.NoError(t, ledger.ReplaceWorkspaceAttachmentRefs(ctx, "ws1", []WorkspaceAttachmentRef{
		{WorkspaceID: "ws1", Path: "b.png", Hash: "hash-b", UserID: "user1"},
	}, now+1))

	used, err = ledger.UsedBytes(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, int64(20), used)
}
