package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/diaryx-dev/diaryx-sync/internal/attachment"
	"github.com/diaryx-dev/diaryx-sync/internal/attachment/blobstore"
)

func newSweepAttachmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-attachments",
		Short: "Run one pass of expired-session and soft-deleted-blob cleanup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweepAttachments(cmd.Context())
		},
	}
}

func runSweepAttachments(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ledger, err := attachment.Open(ctx, cfg.Attachments.LedgerDBPath, logger)
	if err != nil {
		return fmt.Errorf("opening attachment ledger: %w", err)
	}
	defer ledger.Close()

	blobs, err := blobstore.New(blobstore.Config{
		Endpoint:  cfg.Attachments.S3Endpoint,
		AccessKey: cfg.Attachments.S3AccessKey,
		SecretKey: cfg.Attachments.S3SecretKey,
		Bucket:    cfg.Attachments.S3Bucket,
		UseTLS:    cfg.Attachments.S3UseTLS,
	})
	if err != nil {
		return fmt.Errorf("connecting to attachment blob store: %w", err)
	}

	gracePeriod, err := cfg.SweepGracePeriodDuration()
	if err != nil {
		gracePeriod = 24 * time.Hour
	}

	pipeline := attachment.NewPipeline(ledger, blobs, func() int64 { return time.Now().UnixMilli() }, logger)
	sweeper := attachment.NewSweeper(pipeline, int64(gracePeriod.Seconds()), cfg.Attachments.SweepConcurrency, logger)

	sessions, err := sweeper.SweepExpiredSessions(ctx)
	if err != nil {
		return fmt.Errorf("sweeping expired sessions: %w", err)
	}
	blobsSwept, err := sweeper.SweepSoftDeletedBlobs(ctx)
	if err != nil {
		return fmt.Errorf("sweeping soft-deleted blobs: %w", err)
	}

	logger.Info("sweep complete", "expired_sessions", sessions, "soft_deleted_blobs", blobsSwept)
	return nil
}
