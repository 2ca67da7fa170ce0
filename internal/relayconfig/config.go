// Package relayconfig implements TOML configuration loading and validation
// for the relay daemon (cmd/diaryx-relayd), following the same
// section-per-struct, defaults-then-file layering used by the client's
// internal/config package.
package relayconfig

import "time"

// Config is the top-level relay daemon configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Attachments AttachmentsConfig `toml:"attachments"`
	Logging     LoggingConfig     `toml:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// StorageConfig controls where per-workspace SQLite databases live.
type StorageConfig struct {
	WorkspaceDBDir  string `toml:"workspace_db_dir"`
	BodyPoolSize    int    `toml:"body_pool_size"`
	RoomIdleTimeout string `toml:"room_idle_timeout"`
}

// AttachmentsConfig controls the global attachment ledger, object store,
// and upload-session sweeper.
type AttachmentsConfig struct {
	LedgerDBPath      string `toml:"ledger_db_path"`
	S3Endpoint        string `toml:"s3_endpoint"`
	S3AccessKey       string `toml:"s3_access_key"`
	S3SecretKey       string `toml:"s3_secret_key"`
	S3Bucket          string `toml:"s3_bucket"`
	S3UseTLS          bool   `toml:"s3_use_tls"`
	DefaultTierBytes  int64  `toml:"default_tier_bytes"`
	SessionTTL        string `toml:"session_ttl"`
	SweepInterval     string `toml:"sweep_interval"`
	SweepGracePeriod  string `toml:"sweep_grace_period"`
	SweepConcurrency  int    `toml:"sweep_concurrency"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// ShutdownTimeoutDuration parses Server.ShutdownTimeout.
func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.Server.ShutdownTimeout)
}

// RoomIdleTimeoutDuration parses Storage.RoomIdleTimeout.
func (c *Config) RoomIdleTimeoutDuration() (time.Duration, error) {
	return time.ParseDuration(c.Storage.RoomIdleTimeout)
}

// SessionTTLDuration parses Attachments.SessionTTL.
func (c *Config) SessionTTLDuration() (time.Duration, error) {
	return time.ParseDuration(c.Attachments.SessionTTL)
}

// SweepIntervalDuration parses Attachments.SweepInterval.
func (c *Config) SweepIntervalDuration() (time.Duration, error) {
	return time.ParseDuration(c.Attachments.SweepInterval)
}

// SweepGracePeriodDuration parses Attachments.SweepGracePeriod.
func (c *Config) SweepGracePeriodDuration() (time.Duration, error) {
	return time.ParseDuration(c.Attachments.SweepGracePeriod)
}
