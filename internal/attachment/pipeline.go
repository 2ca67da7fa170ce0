package attachment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/diaryx-dev/diaryx-sync/internal/attachment/blobstore"
	"github.com/diaryx-dev/diaryx-sync/internal/syncerr"
)

// BlobClient is the subset of blobstore.Store the pipeline needs. Tests
// inject a fake; production wires *blobstore.Store.
type BlobClient interface {
	NewMultipartUpload(ctx context.Context, hash, mimeType string) (string, error)
	UploadPart(ctx context.Context, hash, uploadID string, partNo int, r io.Reader, size int64) (blobstore.Part, error)
	CompleteMultipartUpload(ctx context.Context, hash, uploadID string, parts []blobstore.Part) error
	AbortMultipartUpload(ctx context.Context, hash, uploadID string) error
	PutObject(ctx context.Context, hash string, r io.Reader, size int64, mimeType string) error
	GetObject(ctx context.Context, hash string) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, hash string) error
}

// Pipeline drives the multipart upload session lifecycle against a Ledger
// and a BlobClient (spec §4.8 "create → upload parts → complete → commit
// ref").
type Pipeline struct {
	ledger *Ledger
	blobs  BlobClient
	logger *slog.Logger
	now    func() int64
}

// NewPipeline builds a Pipeline. now defaults to a caller-supplied clock
// since the relay's handlers already thread one through for testability;
// it returns Unix milliseconds, the unit of every timestamp in the ledger.
func NewPipeline(ledger *Ledger, blobs BlobClient, now func() int64, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{ledger: ledger, blobs: blobs, logger: logger, now: now}
}

// CreateSession starts a new upload: it opens an upstream multipart upload
// under a provisional object key (the content hash is not known yet, so a
// per-session placeholder is used until Complete recomputes and re-keys by
// hash) and records a session row. Returns the session the caller polls
// part uploads against.
func (p *Pipeline) CreateSession(ctx context.Context, userID, workspaceID, targetPath, mimeType string, ttlSeconds int64) (Session, error) {
	now := p.now()
	placeholder := fmt.Sprintf("pending-%s-%s-%d", workspaceID, targetPath, now)

	objectKey, err := p.blobs.NewMultipartUpload(ctx, placeholder, mimeType)
	if err != nil {
		return Session{}, err
	}

	return p.ledger.CreateSession(ctx, userID, workspaceID, targetPath, mimeType, objectKey, now, now+ttlSeconds*1000)
}

// UploadPart uploads one part's bytes and records it idempotently.
func (p *Pipeline) UploadPart(ctx context.Context, uploadID string, partNo int, data []byte) error {
	sess, err := p.ledger.GetSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if sess.Status != StatusActive {
		return fmt.Errorf("attachment: session %s is not active: %w", uploadID, syncerr.ErrProtocol)
	}

	part, err := p.blobs.UploadPart(ctx, placeholderHash(sess), sess.ObjectKey, partNo, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	return p.ledger.RecordPart(ctx, uploadID, partNo, part.ETag, part.Size)
}

// CompleteResult is what Complete returns: the finalized blob's identity
// plus whether it counted against the user's quota.
type CompleteResult struct {
	Hash      string
	Size      int64
	MimeType  string
	NewToUser bool
}

// Complete finalizes uploadID: composes the recorded parts against the
// upstream multipart, hashes the assembled bytes, enforces the user's
// quota for any net-new bytes, and upserts the blob ownership row. Because
// this implementation uploads parts under a placeholder object key (the
// real content hash is unknown until every part exists), completion here
// recomputes the hash from the full reassembled object and re-PUTs it
// under the hash-keyed name, then removes the placeholder object —
// the extra read-back trades one object copy for not having to buffer the
// whole upload client-side.
func (p *Pipeline) Complete(ctx context.Context, uploadID string, tierLimit int64) (CompleteResult, error) {
	sess, err := p.ledger.GetSession(ctx, uploadID)
	if err != nil {
		return CompleteResult{}, err
	}
	if sess.Status != StatusActive {
		return CompleteResult{}, fmt.Errorf("attachment: session %s is not active: %w", uploadID, syncerr.ErrProtocol)
	}

	parts, err := p.ledger.ListParts(ctx, uploadID)
	if err != nil {
		return CompleteResult{}, err
	}
	blobParts := make([]blobstore.Part, 0, len(parts))
	for _, pt := range parts {
		blobParts = append(blobParts, blobstore.Part{PartNumber: pt.PartNo, ETag: pt.ETag, Size: pt.Size})
	}

	placeholder := placeholderHash(sess)
	if err := p.blobs.CompleteMultipartUpload(ctx, placeholder, sess.ObjectKey, blobParts); err != nil {
		return CompleteResult{}, err
	}

	obj, err := p.blobs.GetObject(ctx, placeholder)
	if err != nil {
		return CompleteResult{}, err
	}
	hash, size, err := HashReader(obj)
	obj.Close()
	if err != nil {
		return CompleteResult{}, fmt.Errorf("attachment: hashing completed upload %s: %w", uploadID, err)
	}

	owned, err := p.ledger.OwnedHashes(ctx, sess.UserID, []string{hash})
	if err != nil {
		return CompleteResult{}, err
	}
	newToUser := !owned[hash]

	if newToUser {
		if err := p.ledger.CheckQuota(ctx, sess.UserID, tierLimit, map[string]int64{hash: size}); err != nil {
			return CompleteResult{}, err
		}
	}

	final, err := p.blobs.GetObject(ctx, placeholder)
	if err != nil {
		return CompleteResult{}, err
	}
	defer final.Close()
	if err := p.blobs.PutObject(ctx, hash, final, size, sess.MimeType); err != nil {
		return CompleteResult{}, err
	}
	if err := p.blobs.RemoveObject(ctx, placeholder); err != nil {
		p.logger.Warn("attachment: removing placeholder object failed", "upload_id", uploadID, "error", err)
	}

	now := p.now()
	if err := p.ledger.UpsertBlob(ctx, nil, sess.UserID, hash, size, sess.MimeType, now); err != nil {
		return CompleteResult{}, err
	}

	if err := p.ledger.SetSessionStatus(ctx, uploadID, StatusCompleted); err != nil {
		return CompleteResult{}, err
	}

	return CompleteResult{Hash: hash, Size: size, MimeType: sess.MimeType, NewToUser: newToUser}, nil
}

// Abort cancels an in-progress upload, tearing down the upstream multipart.
func (p *Pipeline) Abort(ctx context.Context, uploadID string) error {
	sess, err := p.ledger.GetSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if err := p.blobs.AbortMultipartUpload(ctx, placeholderHash(sess), sess.ObjectKey); err != nil {
		p.logger.Warn("attachment: aborting upstream multipart failed", "upload_id", uploadID, "error", err)
	}
	if err := p.ledger.SetSessionStatus(ctx, uploadID, StatusAborted); err != nil {
		return err
	}
	return p.ledger.DeleteSession(ctx, uploadID)
}

func placeholderHash(s Session) string {
	return fmt.Sprintf("pending-%s-%s-%d", s.WorkspaceID, s.TargetPath, s.CreatedAt)
}
