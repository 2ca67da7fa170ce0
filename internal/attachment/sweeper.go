package attachment

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Sweeper periodically reaps expired upload sessions and garbage-collects
// soft-deleted blobs past their grace period (spec §4.8 "Aborted and
// expired sessions are swept by a background job...A sweeper lists blobs
// whose soft_deleted_at is older than the grace period, deletes their
// underlying blobs, and removes the rows.").
type Sweeper struct {
	pipeline      *Pipeline
	graceSeconds  int64
	maxConcurrent int
	logger        *slog.Logger
}

// NewSweeper builds a Sweeper. maxConcurrent bounds how many blob deletions
// run at once.
func NewSweeper(pipeline *Pipeline, graceSeconds int64, maxConcurrent int, logger *slog.Logger) *Sweeper {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{pipeline: pipeline, graceSeconds: graceSeconds, maxConcurrent: maxConcurrent, logger: logger}
}

// SweepExpiredSessions aborts and removes every active session past its
// expiry.
func (s *Sweeper) SweepExpiredSessions(ctx context.Context) (int, error) {
	now := s.pipeline.now()
	expired, err := s.pipeline.ledger.ExpiredSessions(ctx, now)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for _, sess := range expired {
		sess := sess
		g.Go(func() error {
			if err := s.pipeline.Abort(gctx, sess.UploadID); err != nil {
				s.logger.Warn("attachment: sweeping expired session failed", "upload_id", sess.UploadID, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(expired), nil
}

// SweepSoftDeletedBlobs deletes the underlying object and row for every
// blob whose soft_deleted_at is older than the grace period.
func (s *Sweeper) SweepSoftDeletedBlobs(ctx context.Context) (int, error) {
	now := s.pipeline.now()
	cutoff := now - s.graceSeconds*1000
	blobs, err := s.pipeline.ledger.SoftDeletedOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for _, b := range blobs {
		b := b
		g.Go(func() error {
			if err := s.pipeline.blobs.RemoveObject(gctx, b.Hash); err != nil {
				s.logger.Warn("attachment: removing blob object failed", "hash", b.Hash, "error", err)
				return nil
			}
			if err := s.pipeline.ledger.DeleteBlobRow(gctx, b.UserID, b.Hash); err != nil {
				s.logger.Warn("attachment: deleting blob row failed", "hash", b.Hash, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(blobs), nil
}
