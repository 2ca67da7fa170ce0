package attachment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Status is an upload session's lifecycle state (spec §4.8 "create →
// upload parts → complete → commit ref").
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Session is one multipart upload session row.
type Session struct {
	UploadID    string
	UserID      string
	WorkspaceID string
	TargetPath  string
	Status      Status
	MimeType    string
	ObjectKey   string // the underlying blob store's multipart upload id
	CreatedAt   int64
	ExpiresAt   int64
}

// CreateSession records a new active upload session, identified by a fresh
// upload ID.
func (l *Ledger) CreateSession(ctx context.Context, userID, workspaceID, targetPath, mimeType, objectKey string, now, expiresAt int64) (Session, error) {
	s := Session{
		UploadID:    uuid.NewString(),
		UserID:      userID,
		WorkspaceID: workspaceID,
		TargetPath:  targetPath,
		Status:      StatusActive,
		MimeType:    mimeType,
		ObjectKey:   objectKey,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}

	const q = `INSERT INTO upload_sessions (upload_id, user_id, workspace_id, target_path, status, mime_type, object_key, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := l.db.ExecContext(ctx, q, s.UploadID, s.UserID, s.WorkspaceID, s.TargetPath, string(s.Status), s.MimeType, s.ObjectKey, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return Session{}, fmt.Errorf("attachment: creating upload session: %w", err)
	}
	return s, nil
}

// GetSession loads an upload session by id.
func (l *Ledger) GetSession(ctx context.Context, uploadID string) (Session, error) {
	const q = `SELECT upload_id, user_id, workspace_id, target_path, status, mime_type, object_key, created_at, expires_at
		FROM upload_sessions WHERE upload_id = ?`

	var s Session
	var status string
	err := l.db.QueryRowContext(ctx, q, uploadID).Scan(
		&s.UploadID, &s.UserID, &s.WorkspaceID, &s.TargetPath, &status, &s.MimeType, &s.ObjectKey, &s.CreatedAt, &s.ExpiresAt)
	if err == sql.ErrNoRows {
		return Session{}, fmt.Errorf("attachment: session %s: %w", uploadID, errSessionNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("attachment: loading session %s: %w", uploadID, err)
	}
	s.Status = Status(status)
	return s, nil
}

// RecordPart upserts one part's etag/size, overwriting a prior upload of
// the same part_no idempotently (spec §4.8 "Parts may be re-uploaded
// idempotently (same part_no overwrites)").
func (l *Ledger) RecordPart(ctx context.Context, uploadID string, partNo int, etag string, size int64) error {
	const q = `INSERT INTO upload_parts (upload_id, part_no, etag, size_bytes) VALUES (?, ?, ?, ?)
		ON CONFLICT(upload_id, part_no) DO UPDATE SET etag = excluded.etag, size_bytes = excluded.size_bytes`
	if _, err := l.db.ExecContext(ctx, q, uploadID, partNo, etag, size); err != nil {
		return fmt.Errorf("attachment: recording part %d of %s: %w", partNo, uploadID, err)
	}
	return nil
}

// PartRecord is one row of a session's recorded parts.
type PartRecord struct {
	PartNo int
	ETag   string
	Size   int64
}

// ListParts returns every recorded part of uploadID in part_no order.
func (l *Ledger) ListParts(ctx context.Context, uploadID string) ([]PartRecord, error) {
	const q = `SELECT part_no, etag, size_bytes FROM upload_parts WHERE upload_id = ? ORDER BY part_no ASC`
	rows, err := l.db.QueryContext(ctx, q, uploadID)
	if err != nil {
		return nil, fmt.Errorf("attachment: listing parts for %s: %w", uploadID, err)
	}
	defer rows.Close()

	var out []PartRecord
	for rows.Next() {
		var p PartRecord
		if err := rows.Scan(&p.PartNo, &p.ETag, &p.Size); err != nil {
			return nil, fmt.Errorf("attachment: scanning part row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetSessionStatus transitions uploadID to status.
func (l *Ledger) SetSessionStatus(ctx context.Context, uploadID string, status Status) error {
	const q = `UPDATE upload_sessions SET status = ? WHERE upload_id = ?`
	if _, err := l.db.ExecContext(ctx, q, string(status), uploadID); err != nil {
		return fmt.Errorf("attachment: setting status of %s: %w", uploadID, err)
	}
	return nil
}

// ExpiredSessions returns every active session whose expires_at is at or
// before now, for the reaper to cancel (spec §5 "Upload sessions carry
// expires_at; the reaper cancels any session past expiry").
func (l *Ledger) ExpiredSessions(ctx context.Context, now int64) ([]Session, error) {
	const q = `SELECT upload_id, user_id, workspace_id, target_path, status, mime_type, object_key, created_at, expires_at
		FROM upload_sessions WHERE status = ? AND expires_at <= ?`

	rows, err := l.db.QueryContext(ctx, q, string(StatusActive), now)
	if err != nil {
		return nil, fmt.Errorf("attachment: listing expired sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var status string
		if err := rows.Scan(&s.UploadID, &s.UserID, &s.WorkspaceID, &s.TargetPath, &status, &s.MimeType, &s.ObjectKey, &s.CreatedAt, &s.ExpiresAt); err != nil {
			return nil, fmt.Errorf("attachment: scanning expired session row: %w", err)
		}
		s.Status = Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its parts, called once it reaches a
// terminal state and has been reconciled upstream.
func (l *Ledger) DeleteSession(ctx context.Context, uploadID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("attachment: beginning session delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM upload_parts WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("attachment: deleting parts for %s: %w", uploadID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("attachment: deleting session %s: %w", uploadID, err)
	}
	return tx.Commit()
}

type sessionNotFoundError string

func (e sessionNotFoundError) Error() string { return string(e) }

var errSessionNotFound = sessionNotFoundError("attachment: session not found")
