package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"version"})

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "droneagent dev\n", out.String())
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("drone_service_host: backend.local\n"), 0o600))

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetArgs([]string{"config", "--config", path, "--log-level", "debug", "--mock"})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "drone_service_host: backend.local")
	assert.Contains(t, out.String(), "log_level: debug")
	assert.Contains(t, out.String(), "bus: mock")
}
