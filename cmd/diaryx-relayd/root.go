package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/diaryx-dev/diaryx-sync/internal/relayconfig"
)

// version is set at build time via ldflags.
var version = "dev"

var flagConfigPath string
var flagVerbose bool

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "diaryx-relayd",
		Short:         "Diaryx sync relay daemon",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "path to relay.toml (defaults to platform config dir)")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSweepAttachmentsCmd())

	return cmd
}

func buildLogger(cfg *relayconfig.Config) *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	} else if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat
	}
	if format == "auto" {
		format = "text"
		if !isatty.IsTerminal(os.Stderr.Fd()) {
			format = "json"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadConfig() (*relayconfig.Config, *slog.Logger, error) {
	logger := buildLogger(nil)

	path := flagConfigPath
	if path == "" {
		path = relayconfig.DefaultConfigPath()
	}

	cfg, err := relayconfig.LoadOrDefault(path, logger)
	if err != nil {
		return nil, nil, err
	}

	return cfg, buildLogger(cfg), nil
}
