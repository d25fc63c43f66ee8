package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 60*time.Second, cfg.ExplanationTimeout)
	assert.Equal(t, "meta-llama/llama-3-8b-instruct", cfg.ExplanationModel)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.OpenRouterAPIKey)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Empty(t, cfg.OpenRouterAPIKey)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PHARMGX_DATA_DIR", "/tmp/test-pharmgx")
	t.Setenv("PHARMGX_CACHE_MAX_ITEMS", "500")
	t.Setenv("PHARMGX_CACHE_TTL", "12h")
	t.Setenv("PHARMGX_EXPLANATION_TIMEOUT", "5s")
	t.Setenv("PHARMGX_MAX_CONCURRENCY", "8")
	t.Setenv("PHARMGX_LOG_LEVEL", "debug")
	t.Setenv("OPENROUTER_API_KEY", "test-key")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-pharmgx", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.ExplanationTimeout)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "test-key", cfg.OpenRouterAPIKey)
}

func TestLoadLiteConfig_InvalidValuesIgnored(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PHARMGX_CACHE_MAX_ITEMS", "-3")
	t.Setenv("PHARMGX_CACHE_TTL", "forever")
	t.Setenv("PHARMGX_MAX_CONCURRENCY", "zero")

	cfg := LoadLiteConfig()

	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, 4, cfg.MaxConcurrency)
}

func TestLiteConfig_FeedbackDBPath(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.pharmgx-risk"}

	path := cfg.FeedbackDBPath()

	assert.Equal(t, "/home/user/.pharmgx-risk/feedback.db", path)
}

func TestLiteConfig_ExportDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.pharmgx-risk"}

	path := cfg.ExportDir()

	assert.Equal(t, "/home/user/.pharmgx-risk/exports", path)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "pharmgx")}

	err = cfg.EnsureDataDir()
	require.NoError(t, err)

	// Verify directories exist
	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"PHARMGX_DATA_DIR",
		"PHARMGX_CACHE_MAX_ITEMS",
		"PHARMGX_CACHE_TTL",
		"PHARMGX_EXPLANATION_MODEL",
		"PHARMGX_EXPLANATION_TIMEOUT",
		"PHARMGX_MAX_CONCURRENCY",
		"PHARMGX_LOG_LEVEL",
		"PHARMGX_LOG_FORMAT",
		"OPENROUTER_API_KEY",
	}
	for _, v := range vars {
		// t.Setenv registers restoration of the original value
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
