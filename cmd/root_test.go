package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "summarize", "progress", "sweep", "usage", "migrate", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "sightline", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestSummarizeCommand_Flags(t *testing.T) {
	for _, name := range []string{"token", "fingerprint", "interval", "timeout"} {
		assert.NotNil(t, summarizeCmd.Flags().Lookup(name), "summarize should have --%s flag", name)
	}
	assert.NotNil(t, progressCmd.Flags().Lookup("fingerprint"))
}

func TestUsageCommand_Flags(t *testing.T) {
	flag := usageCmd.Flags().Lookup("kind")
	require.NotNil(t, flag)
	assert.Equal(t, "free", flag.DefValue)
}
