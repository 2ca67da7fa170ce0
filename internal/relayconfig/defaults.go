package relayconfig

// Default values for configuration options, chosen as safe starting
// points that work without any config file present.
const (
	defaultListenAddr      = ":8443"
	defaultShutdownTimeout = "30s"

	defaultWorkspaceDBDir  = "/var/lib/diaryx-relayd/workspaces"
	defaultBodyPoolSize    = 4096
	defaultRoomIdleTimeout = "5m"

	defaultLedgerDBPath     = "/var/lib/diaryx-relayd/attachments.sqlite"
	defaultTierBytes        = 5 * 1024 * 1024 * 1024 // 5 GiB
	defaultSessionTTL       = "1h"
	defaultSweepInterval    = "10m"
	defaultSweepGracePeriod = "24h"
	defaultSweepConcurrency = 8

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
)

// DefaultConfig returns a Config populated with every default value, the
// zero-config starting point before a config file's values are applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      defaultListenAddr,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Storage: StorageConfig{
			WorkspaceDBDir:  defaultWorkspaceDBDir,
			BodyPoolSize:    defaultBodyPoolSize,
			RoomIdleTimeout: defaultRoomIdleTimeout,
		},
		Attachments: AttachmentsConfig{
			LedgerDBPath:     defaultLedgerDBPath,
			DefaultTierBytes: defaultTierBytes,
			SessionTTL:       defaultSessionTTL,
			SweepInterval:    defaultSweepInterval,
			SweepGracePeriod: defaultSweepGracePeriod,
			SweepConcurrency: defaultSweepConcurrency,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
