package relayconfig

import (
	"os"
	"path/filepath"
)

const appName = "diaryx-relayd"
const configFileName = "relay.toml"

// DefaultConfigDir returns the directory for the relay daemon's config
// file: $XDG_CONFIG_HOME/diaryx-relayd when XDG_CONFIG_HOME is set,
// otherwise ~/.config/diaryx-relayd, on every platform.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName)
}

// DefaultConfigPath returns the full default path to relay.toml.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, configFileName)
}
