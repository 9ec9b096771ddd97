package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Millisecond, cfg.CancelCheckInterval())
	assert.Equal(t, 50*time.Millisecond, cfg.WriteThrottleInterval())
	assert.Equal(t, 4096, cfg.MaxOutputTokens)
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Anthropic.Model = "claude-sonnet-4-5"
	cfg.WriteThrottleIntervalMs = 100
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", loaded.Anthropic.Model)
	assert.Equal(t, 100*time.Millisecond, loaded.WriteThrottleInterval())
}

func TestCancelIntervalNeverExceedsWriteThrottle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.CancelCheckIntervalMs = 500
	cfg.WriteThrottleIntervalMs = 50
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, loaded.CancelCheckIntervalMs, loaded.WriteThrottleIntervalMs)
}

func TestToolTimeoutFallsBackToDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20*time.Second, cfg.ToolTimeout("webSearch"))
	assert.Equal(t, 30*time.Second, cfg.ToolTimeout("unknownTool"))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Anthropic.APIKey)
	_ = os.Unsetenv("ANTHROPIC_API_KEY")
}
