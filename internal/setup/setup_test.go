package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_PreservesOtherServers(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "Claude", "claude_desktop_config.json")
	require.NoError(t, SaveClientConfig(configPath, &ClientConfig{
		MCPServers: map[string]MCPServerConfig{
			"other": {Command: "/usr/bin/other"},
		},
	}))

	binary := filepath.Join(dir, "mcp-server")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	err := Configure(configPath, Options{
		BinaryPath: binary,
		DataDir:    filepath.Join(dir, "data"),
		APIKey:     "sk-test",
	})
	require.NoError(t, err)

	config, err := LoadClientConfig(configPath)
	require.NoError(t, err)
	require.Len(t, config.MCPServers, 2)
	assert.Equal(t, "/usr/bin/other", config.MCPServers["other"].Command)

	entry := config.MCPServers[ServerName]
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, filepath.Join(dir, "data"), entry.Env[DataDirEnv])
	assert.Equal(t, "sk-test", entry.Env["OPENROUTER_API_KEY"])
}

func TestLoadClientConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		config, err := LoadClientConfig(filepath.Join(dir, "absent.json"))
		require.NoError(t, err)
		assert.Empty(t, config.MCPServers)
	})

	t.Run("invalid json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0644))
		_, err := LoadClientConfig(path)
		assert.Error(t, err)
	})

	t.Run("no servers key", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
		config, err := LoadClientConfig(path)
		require.NoError(t, err)
		assert.NotNil(t, config.MCPServers)
	})
}

func TestGetStatus(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	status, err := GetStatus(configPath)
	require.NoError(t, err)
	assert.False(t, status.ServerConfigured)
	assert.Len(t, status.Issues, 1)

	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "feedback.db"), nil, 0644))
	require.NoError(t, Configure(configPath, Options{
		BinaryPath: filepath.Join(dir, "missing-binary"),
		DataDir:    dataDir,
	}))

	status, err = GetStatus(configPath)
	require.NoError(t, err)
	assert.True(t, status.ServerConfigured)
	assert.Equal(t, dataDir, status.DataDir)
	assert.True(t, status.FeedbackDB)
	require.Len(t, status.Issues, 1)
	assert.Contains(t, status.Issues[0], "Server binary not found")
}
