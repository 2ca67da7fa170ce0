package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diaryx-dev/diaryx-sync/internal/attachment"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the attachment ledger",
		Long: "Per-workspace stores migrate themselves on first open; this only " +
			"provisions/migrates the shared attachment ledger, so it can run " +
			"ahead of the first request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.WorkspaceDBDir, 0o755); err != nil {
		return fmt.Errorf("creating workspace db dir: %w", err)
	}

	ledger, err := attachment.Open(ctx, cfg.Attachments.LedgerDBPath, logger)
	if err != nil {
		return fmt.Errorf("migrating attachment ledger: %w", err)
	}
	defer ledger.Close()

	logger.Info("attachment ledger migrated", "path", cfg.Attachments.LedgerDBPath)
	return nil
}
