package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := newRootCmd()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}

	require.True(t, names["serve"])
	require.True(t, names["migrate"])
	require.True(t, names["sweep-attachments"])
}

func TestBuildLogger_DefaultsToInfo(t *testing.T) {
	logger := buildLogger(nil)
	require.NotNil(t, logger)
	require.False(t, logger.Enabled(nil, -10)) // below info is disabled by default
}
