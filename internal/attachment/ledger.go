// Package attachment implements the multipart upload session lifecycle,
// content-addressed ref counting, and quota enforcement described in spec
// §4.8. Unlike internal/store (one SQLite file per workspace), the ledger
// here is global per relay deployment: a UserBlob's ownership and quota
// span every workspace the user belongs to.
package attachment

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Ledger is the sole writer of the attachment accounting database: blob
// ownership, workspace-to-blob references, and upload session state.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the ledger database at path and runs
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("attachment: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// UserBlob is one (user, hash) content-addressed blob ownership row (spec
// §3, §4.8).
type UserBlob struct {
	UserID        string
	Hash          string
	SizeBytes     int64
	MimeType      string
	RefCount      int64
	SoftDeletedAt *int64
	CreatedAt     int64
}

// UsedBytes returns the sum of size_bytes across every blob userID owns
// with ref_count > 0 (spec §4.8 "Quota").
func (l *Ledger) UsedBytes(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT COALESCE(SUM(size_bytes), 0) FROM user_blobs WHERE user_id = ? AND ref_count > 0`
	var used int64
	if err := l.db.QueryRowContext(ctx, q, userID).Scan(&used); err != nil {
		return 0, fmt.Errorf("attachment: summing used bytes for %s: %w", userID, err)
	}
	return used, nil
}

// OwnedHashes returns the set of hashes userID already owns (ref_count > 0
// or otherwise), used to exclude hashes the user already has from a new
// upload's quota charge (spec §4.7 "excluding hashes the user already
// owns").
func (l *Ledger) OwnedHashes(ctx context.Context, userID string, hashes []string) (map[string]bool, error) {
	owned := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return owned, nil
	}

	// SQLite has no array binding; query one at a time, the set is small
	// per import (one checked per distinct hash).
	const q = `SELECT 1 FROM user_blobs WHERE user_id = ? AND hash = ?`
	for _, h := range hashes {
		var one int
		err := l.db.QueryRowContext(ctx, q, userID, h).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("attachment: checking ownership of %s: %w", h, err)
		}
		owned[h] = true
	}
	return owned, nil
}

// UpsertBlob inserts userID's ownership row for hash if absent, or updates
// its size/mime if already present, without touching ref_count.
func (l *Ledger) UpsertBlob(ctx context.Context, tx *sql.Tx, userID, hash string, size int64, mimeType string, now int64) error {
	const q = `INSERT INTO user_blobs (user_id, hash, size_bytes, mime_type, ref_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(user_id, hash) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			mime_type = excluded.mime_type,
			soft_deleted_at = NULL`

	exec := l.execer(tx)
	if _, err := exec.ExecContext(ctx, q, userID, hash, size, mimeType, now); err != nil {
		return fmt.Errorf("attachment: upserting blob %s/%s: %w", userID, hash, err)
	}
	return nil
}

// AdjustRefCount changes hash's ref_count by delta; when the count reaches
// zero it stamps soft_deleted_at for the sweeper to pick up later (spec
// §4.8 "Reference counting").
func (l *Ledger) AdjustRefCount(ctx context.Context, tx *sql.Tx, userID, hash string, delta int64, now int64) error {
	exec := l.execer(tx)

	const upd = `UPDATE user_blobs SET ref_count = ref_count + ? WHERE user_id = ? AND hash = ?`
	if _, err := exec.ExecContext(ctx, upd, delta, userID, hash); err != nil {
		return fmt.Errorf("attachment: adjusting ref count for %s/%s: %w", userID, hash, err)
	}

	const markDeleted = `UPDATE user_blobs SET soft_deleted_at = ? WHERE user_id = ? AND hash = ? AND ref_count <= 0 AND soft_deleted_at IS NULL`
	if _, err := exec.ExecContext(ctx, markDeleted, now, userID, hash); err != nil {
		return fmt.Errorf("attachment: soft-deleting %s/%s: %w", userID, hash, err)
	}

	const clearDeleted = `UPDATE user_blobs SET soft_deleted_at = NULL WHERE user_id = ? AND hash = ? AND ref_count > 0`
	if _, err := exec.ExecContext(ctx, clearDeleted, userID, hash); err != nil {
		return fmt.Errorf("attachment: clearing soft-delete for %s/%s: %w", userID, hash, err)
	}
	return nil
}

// SoftDeletedOlderThan lists blobs whose soft_deleted_at is at or before
// cutoff, for the sweeper to garbage-collect (spec §4.8).
func (l *Ledger) SoftDeletedOlderThan(ctx context.Context, cutoff int64) ([]UserBlob, error) {
	const q = `SELECT user_id, hash, size_bytes, mime_type, ref_count, soft_deleted_at, created_at
		FROM user_blobs WHERE soft_deleted_at IS NOT NULL AND soft_deleted_at <= ?`

	rows, err := l.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("attachment: listing soft-deleted blobs: %w", err)
	}
	defer rows.Close()

	var out []UserBlob
	for rows.Next() {
		var b UserBlob
		if err := rows.Scan(&b.UserID, &b.Hash, &b.SizeBytes, &b.MimeType, &b.RefCount, &b.SoftDeletedAt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("attachment: scanning soft-deleted blob row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBlobRow removes userID/hash's ownership row entirely, called by the
// sweeper after the underlying object has been deleted from the blob store.
func (l *Ledger) DeleteBlobRow(ctx context.Context, userID, hash string) error {
	const q = `DELETE FROM user_blobs WHERE user_id = ? AND hash = ?`
	if _, err := l.db.ExecContext(ctx, q, userID, hash); err != nil {
		return fmt.Errorf("attachment: deleting blob row %s/%s: %w", userID, hash, err)
	}
	return nil
}

// WorkspaceAttachmentRef is one file's attachment edge (spec §4.7, §4.8).
type WorkspaceAttachmentRef struct {
	WorkspaceID string
	Path        string
	Hash        string
	UserID      string
}

// WorkspaceRefs returns every attachment ref currently recorded for
// workspaceID.
func (l *Ledger) WorkspaceRefs(ctx context.Context, workspaceID string) ([]WorkspaceAttachmentRef, error) {
	const q = `SELECT workspace_id, path, hash, user_id FROM workspace_attachment_refs WHERE workspace_id = ?`
	rows, err := l.db.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("attachment: listing refs for %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []WorkspaceAttachmentRef
	for rows.Next() {
		var r WorkspaceAttachmentRef
		if err := rows.Scan(&r.WorkspaceID, &r.Path, &r.Hash, &r.UserID); err != nil {
			return nil, fmt.Errorf("attachment: scanning ref row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceWorkspaceAttachmentRefs computes the symmetric difference between
// the previous ref edge set and newRefs, and atomically adjusts ref counts
// for only what changed (spec §4.7 "replace_workspace_attachment_refs...
// computes the symmetric difference with the previous edge set and adjusts
// ref counts atomically in a transaction").
func (l *Ledger) ReplaceWorkspaceAttachmentRefs(ctx context.Context, workspaceID string, newRefs []WorkspaceAttachmentRef, now int64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("attachment: beginning ref-replace transaction: %w", err)
	}
	defer tx.Rollback()

	prior, err := l.workspaceRefsTx(ctx, tx, workspaceID)
	if err != nil {
		return err
	}

	priorByPath := make(map[string]WorkspaceAttachmentRef, len(prior))
	for _, r := range prior {
		priorByPath[r.Path] = r
	}
	newByPath := make(map[string]WorkspaceAttachmentRef, len(newRefs))
	for _, r := range newRefs {
		newByPath[r.Path] = r
	}

	for path, old := range priorByPath {
		n, stillPresent := newByPath[path]
		if stillPresent && n.Hash == old.Hash {
			continue // unchanged edge
		}
		if err := l.AdjustRefCount(ctx, tx, old.UserID, old.Hash, -1, now); err != nil {
			return err
		}
	}
	for path, n := range newByPath {
		old, wasPresent := priorByPath[path]
		if wasPresent && old.Hash == n.Hash {
			continue
		}
		if err := l.AdjustRefCount(ctx, tx, n.UserID, n.Hash, 1, now); err != nil {
			return err
		}
	}

	const del = `DELETE FROM workspace_attachment_refs WHERE workspace_id = ?`
	if _, err := tx.ExecContext(ctx, del, workspaceID); err != nil {
		return fmt.Errorf("attachment: clearing prior refs for %s: %w", workspaceID, err)
	}
	const ins = `INSERT INTO workspace_attachment_refs (workspace_id, path, hash, user_id, updated_at) VALUES (?, ?, ?, ?, ?)`
	for _, r := range newRefs {
		if _, err := tx.ExecContext(ctx, ins, workspaceID, r.Path, r.Hash, r.UserID, now); err != nil {
			return fmt.Errorf("attachment: inserting ref %s/%s: %w", workspaceID, r.Path, err)
		}
	}

	return tx.Commit()
}

func (l *Ledger) workspaceRefsTx(ctx context.Context, tx *sql.Tx, workspaceID string) ([]WorkspaceAttachmentRef, error) {
	const q = `SELECT workspace_id, path, hash, user_id FROM workspace_attachment_refs WHERE workspace_id = ?`
	rows, err := tx.QueryContext(ctx, q, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("attachment: listing refs for %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []WorkspaceAttachmentRef
	for rows.Next() {
		var r WorkspaceAttachmentRef
		if err := rows.Scan(&r.WorkspaceID, &r.Path, &r.Hash, &r.UserID); err != nil {
			return nil, fmt.Errorf("attachment: scanning ref row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Ledger) execer(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return l.db
}

// DB exposes the underlying handle for the upload session store.
func (l *Ledger) DB() *sql.DB { return l.db }
