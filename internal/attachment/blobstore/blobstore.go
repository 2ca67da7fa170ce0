// Package blobstore talks to an S3-compatible object store for attachment
// blob bytes (spec §4.8). The client used is github.com/minio/minio-go/v7,
// chosen because it is already part of the example pack's domain
// dependency surface (storj-storj vendors an S3-compatible client for its
// own gateway) and speaks plain S3 multipart semantics against any
// compatible endpoint (MinIO, R2, S3 itself).
package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store wraps one bucket of an S3-compatible endpoint.
type Store struct {
	client *minio.Client
	bucket string
}

// Config names the endpoint to connect to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseTLS    bool
}

// New dials endpoint and returns a Store bound to cfg.Bucket. It does not
// create the bucket; provisioning is an operator concern.
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: dialing %s: %w", cfg.Endpoint, err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// objectKey maps a content hash to its object key. Content-addressed, so
// distinct (user, workspace) owners of the same bytes resolve to the same
// upstream object (spec §4.7 "Duplicate hashes across files produce a
// single blob entry").
func objectKey(hash string) string {
	return "blobs/" + hash
}

// PutObject uploads size bytes read from r under hash's content-addressed
// key. A re-upload of an already-present hash is a harmless overwrite.
func (s *Store) PutObject(ctx context.Context, hash string, r io.Reader, size int64, mimeType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(hash), r, size, minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return fmt.Errorf("blobstore: putting object %s: %w", hash, err)
	}
	return nil
}

// GetObject streams hash's bytes back to the caller, who must Close it.
func (s *Store) GetObject(ctx context.Context, hash string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(hash), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blobstore: getting object %s: %w", hash, err)
	}
	return obj, nil
}

// RemoveObject deletes hash's underlying object, used by the soft-delete
// sweeper once a blob's ref_count has stayed at zero past the grace period.
func (s *Store) RemoveObject(ctx context.Context, hash string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(hash), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blobstore: removing object %s: %w", hash, err)
	}
	return nil
}

// NewMultipartUpload starts an upstream multipart upload for hash and
// returns the upload ID the session stores for subsequent parts (spec §4.8
// "Completion composes the part list and finalizes the underlying
// object-store multipart").
func (s *Store) NewMultipartUpload(ctx context.Context, hash, mimeType string) (string, error) {
	core := minio.Core{Client: s.client}
	uploadID, err := core.NewMultipartUpload(ctx, s.bucket, objectKey(hash), minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return "", fmt.Errorf("blobstore: starting multipart upload for %s: %w", hash, err)
	}
	return uploadID, nil
}

// Part describes one uploaded multipart part, as returned by PutObjectPart
// and required by CompleteMultipartUpload.
type Part struct {
	PartNumber int
	ETag       string
	Size       int64
}

// UploadPart uploads one part of an in-progress multipart upload.
func (s *Store) UploadPart(ctx context.Context, hash, uploadID string, partNo int, r io.Reader, size int64) (Part, error) {
	core := minio.Core{Client: s.client}
	p, err := core.PutObjectPart(ctx, s.bucket, objectKey(hash), uploadID, partNo, r, size, minio.PutObjectPartOptions{})
	if err != nil {
		return Part{}, fmt.Errorf("blobstore: uploading part %d of %s: %w", partNo, hash, err)
	}
	return Part{PartNumber: p.PartNumber, ETag: p.ETag, Size: p.Size}, nil
}

// CompleteMultipartUpload finalizes the upload from the given parts, in
// part_no order (spec §4.8 "Completion composes the part list").
func (s *Store) CompleteMultipartUpload(ctx context.Context, hash, uploadID string, parts []Part) error {
	core := minio.Core{Client: s.client}
	complete := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		complete = append(complete, minio.CompletePart{PartNumber: p.PartNumber, ETag: p.ETag})
	}
	_, err := core.CompleteMultipartUpload(ctx, s.bucket, objectKey(hash), uploadID, complete, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("blobstore: completing multipart upload for %s: %w", hash, err)
	}
	return nil
}

// AbortMultipartUpload cancels an in-progress multipart upload, called for
// expired or explicitly aborted sessions (spec §4.8 "Aborted and expired
// sessions are swept ... aborts the upstream multipart").
func (s *Store) AbortMultipartUpload(ctx context.Context, hash, uploadID string) error {
	core := minio.Core{Client: s.client}
	if err := core.AbortMultipartUpload(ctx, s.bucket, objectKey(hash), uploadID); err != nil {
		return fmt.Errorf("blobstore: aborting multipart upload for %s: %w", hash, err)
	}
	return nil
}
