// Package store implements the append-only update log described in spec
// §4.1: one SQLite database per workspace holding every CRDT update ever
// applied (for any document in that workspace), an optional base snapshot
// per document, and the file_index table consulted when building the
// manifest sent during handshake (§4.9, §6 file_manifest).
//
// Grounded on the teacher's internal/sync/baseline.go (sole-writer SQLite
// state database, prepared statements, context-scoped queries) and
// migrations.go (goose provider usage).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Pure-Go SQLite driver (no CGO), same choice as the teacher.
	_ "modernc.org/sqlite"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

// Store is the sole writer of one workspace's SQLite database. Safe for
// concurrent use; database/sql pools connections and SQLite serializes
// writers internally (spec §5: "the update store serializes appends per
// document via its own lock; the underlying transaction is atomic").
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at path and runs
// migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	// A single workspace database: serialize writers so SQLITE_BUSY never
	// surfaces to callers under concurrent appends.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers that need their own
// transactions (e.g. the attachment pipeline's ref-count adjustments).
func (s *Store) DB() *sql.DB {
	return s.db
}

// AppendUpdate appends one CRDT update to docName's log at the next
// ordinal. Storage errors propagate (spec §4.1, §7: "storage failures on
// append propagate").
func (s *Store) AppendUpdate(ctx context.Context, docName string, updateBytes []byte, origin crdt.UpdateOrigin, nowUnixNano int64) error {
	const q = `INSERT INTO updates (doc_name, ordinal, update_bytes, origin, created_at)
		VALUES (?, COALESCE((SELECT MAX(ordinal) + 1 FROM updates WHERE doc_name = ?), 0), ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q, docName, docName, updateBytes, origin.String(), nowUnixNano)
	if err != nil {
		return fmt.Errorf("store: appending update for %s: %w", docName, err)
	}
	return nil
}

// UpdateRecord is one row of the append-only log.
type UpdateRecord struct {
	Ordinal int64
	Bytes   []byte
	Origin  string
}

// LoadUpdates returns every update for docName in ordinal order.
func (s *Store) LoadUpdates(ctx context.Context, docName string) ([]UpdateRecord, error) {
	const q = `SELECT ordinal, update_bytes, origin FROM updates WHERE doc_name = ? ORDER BY ordinal ASC`

	rows, err := s.db.QueryContext(ctx, q, docName)
	if err != nil {
		return nil, fmt.Errorf("store: loading updates for %s: %w", docName, err)
	}
	defer rows.Close()

	var out []UpdateRecord
	for rows.Next() {
		var r UpdateRecord
		if err := rows.Scan(&r.Ordinal, &r.Bytes, &r.Origin); err != nil {
			return nil, fmt.Errorf("store: scanning update row for %s: %w", docName, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadSnapshot returns the base snapshot for docName, if any.
func (s *Store) LoadSnapshot(ctx context.Context, docName string) ([]byte, bool, error) {
	const q = `SELECT snapshot_bytes FROM snapshots WHERE doc_name = ?`

	var b []byte
	err := s.db.QueryRowContext(ctx, q, docName).Scan(&b)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: loading snapshot for %s: %w", docName, err)
	}
	return b, true, nil
}

// SaveSnapshot upserts the base snapshot for docName and, conventionally,
// is followed by the caller truncating applied updates (not done here —
// truncation is an optimization left to a compaction pass, not required by
// the spec).
func (s *Store) SaveSnapshot(ctx context.Context, docName string, snapshot []byte, nowUnixNano int64) error {
	const q = `INSERT INTO snapshots (doc_name, snapshot_bytes, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(doc_name) DO UPDATE SET snapshot_bytes = excluded.snapshot_bytes, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q, docName, snapshot, nowUnixNano)
	if err != nil {
		return fmt.Errorf("store: saving snapshot for %s: %w", docName, err)
	}
	return nil
}

// FileIndexEntry is one row of the file_index table (spec §4.1, §3
// "path_index").
type FileIndexEntry struct {
	Path       string
	DocID      string
	Title      string
	PartOf     string
	Deleted    bool
	ModifiedAt int64
}

// UpsertFileIndex records or updates the manifest-relevant projection of a
// file's metadata. Tombstoned entries are kept (never deleted), matching
// the original source's path_index behavior described in SPEC_FULL.md: a
// path recreated after a delete gets a fresh document id rather than
// silently reviving the tombstoned row — callers achieve that by always
// upserting with the *new* doc_id, which this statement supports since the
// primary key is the path, not (path, doc_id).
func (s *Store) UpsertFileIndex(ctx context.Context, e FileIndexEntry) error {
	const q = `INSERT INTO file_index (path, doc_id, title, part_of, deleted, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			doc_id = excluded.doc_id,
			title = excluded.title,
			part_of = excluded.part_of,
			deleted = excluded.deleted,
			modified_at = excluded.modified_at`

	_, err := s.db.ExecContext(ctx, q, e.Path, e.DocID, e.Title, e.PartOf, boolToInt(e.Deleted), e.ModifiedAt)
	if err != nil {
		return fmt.Errorf("store: upserting file_index for %s: %w", e.Path, err)
	}
	return nil
}

// ListFileIndex returns every row, tombstones included; callers filter by
// Deleted as needed (e.g. the handshake manifest carries each row's Deleted
// flag to the client).
func (s *Store) ListFileIndex(ctx context.Context) ([]FileIndexEntry, error) {
	const q = `SELECT path, doc_id, title, part_of, deleted, modified_at FROM file_index ORDER BY path`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: listing file_index: %w", err)
	}
	defer rows.Close()

	var out []FileIndexEntry
	for rows.Next() {
		var e FileIndexEntry
		var deleted int
		if err := rows.Scan(&e.Path, &e.DocID, &e.Title, &e.PartOf, &deleted, &e.ModifiedAt); err != nil {
			return nil, fmt.Errorf("store: scanning file_index row: %w", err)
		}
		e.Deleted = deleted != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearFileIndex removes every row, used by snapshot import in Replace mode
// (spec §4.7).
func (s *Store) ClearFileIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM file_index`); err != nil {
		return fmt.Errorf("store: clearing file_index: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
