package store

import (
	"context"
	"log/slog"

	"github.com/diaryx-dev/diaryx-sync/internal/crdt"
)

// LoadDocument replays docName's persisted state into doc: the base
// snapshot first (if any), then every incremental update in ordinal order.
// Either may fail individually; per spec §4.1 ("either may fail
// individually and is skipped with a warning without aborting the load")
// a bad record is logged and skipped, not fatal to the load.
func (s *Store) LoadDocument(ctx context.Context, docName string, doc crdt.Document) error {
	snapshot, ok, err := s.LoadSnapshot(ctx, docName)
	if err != nil {
		return err
	}
	if ok {
		if _, applyErr := doc.ApplyUpdate(snapshot); applyErr != nil {
			s.logger.Warn("skipping corrupt base snapshot",
				slog.String("doc_name", docName), slog.Any("err", applyErr))
		}
	}

	records, err := s.LoadUpdates(ctx, docName)
	if err != nil {
		return err
	}

	for _, r := range records {
		if _, applyErr := doc.ApplyUpdate(r.Bytes); applyErr != nil {
			s.logger.Warn("skipping corrupt update",
				slog.String("doc_name", docName),
				slog.Int64("ordinal", r.Ordinal),
				slog.Any("err", applyErr))
			continue
		}
	}

	return nil
}
