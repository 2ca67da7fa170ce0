package relayconfig

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks every configuration value and accumulates every error
// found rather than stopping at the first, so an operator sees a complete
// report in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if _, err := time.ParseDuration(cfg.Server.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: %w", err))
	}

	if cfg.Storage.WorkspaceDBDir == "" {
		errs = append(errs, errors.New("storage.workspace_db_dir must not be empty"))
	}
	if cfg.Storage.BodyPoolSize <= 0 {
		errs = append(errs, errors.New("storage.body_pool_size must be positive"))
	}
	if _, err := time.ParseDuration(cfg.Storage.RoomIdleTimeout); err != nil {
		errs = append(errs, fmt.Errorf("storage.room_idle_timeout: %w", err))
	}

	if cfg.Attachments.LedgerDBPath == "" {
		errs = append(errs, errors.New("attachments.ledger_db_path must not be empty"))
	}
	if cfg.Attachments.DefaultTierBytes <= 0 {
		errs = append(errs, errors.New("attachments.default_tier_bytes must be positive"))
	}
	if _, err := time.ParseDuration(cfg.Attachments.SessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("attachments.session_ttl: %w", err))
	}
	if _, err := time.ParseDuration(cfg.Attachments.SweepInterval); err != nil {
		errs = append(errs, fmt.Errorf("attachments.sweep_interval: %w", err))
	}
	if _, err := time.ParseDuration(cfg.Attachments.SweepGracePeriod); err != nil {
		errs = append(errs, fmt.Errorf("attachments.sweep_grace_period: %w", err))
	}
	if cfg.Attachments.SweepConcurrency <= 0 {
		errs = append(errs, errors.New("attachments.sweep_concurrency must be positive"))
	}

	switch cfg.Logging.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.log_level: unknown level %q", cfg.Logging.LogLevel))
	}
	switch cfg.Logging.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: unknown format %q", cfg.Logging.LogFormat))
	}

	return errors.Join(errs...)
}
