package relayconfig

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestLoadOrDefault_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"), discardLogger())
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	const toml = `
[server]
listen_addr = ":9999"

[attachments]
default_tier_bytes = 1000
`
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o600))

	cfg, err := Load(path, discardLogger())
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.Equal(t, int64(1000), cfg.Attachments.DefaultTierBytes)
	require.Equal(t, defaultBodyPoolSize, cfg.Storage.BodyPoolSize) // untouched default survives
}

func TestValidate_RejectsBadDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ShutdownTimeout = "not-a-duration"
	require.Error(t, Validate(cfg))
}
