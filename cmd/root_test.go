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
	for _, name := range []string{"run", "checkpoint", "cache", "runs", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "orgdir", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"resume", "clean", "stages", "state"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "false", runCmd.Flags().Lookup("resume").DefValue)
	assert.Equal(t, "", runCmd.Flags().Lookup("stages").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCheckpointCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range checkpointCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["clear"])
}

func TestCheckpointClear_Args(t *testing.T) {
	assert.NoError(t, checkpointClearCmd.Args(checkpointClearCmd, nil))
	assert.NoError(t, checkpointClearCmd.Args(checkpointClearCmd, []string{"extractor_irs_bmf"}))
	assert.Error(t, checkpointClearCmd.Args(checkpointClearCmd, []string{"a", "b"}))
}

func TestCacheClear_Args(t *testing.T) {
	assert.NoError(t, cacheClearCmd.Args(cacheClearCmd, []string{"propublica"}))
	assert.Error(t, cacheClearCmd.Args(cacheClearCmd, []string{"a", "b"}))
}
