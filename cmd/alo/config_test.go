package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv neutralizes ambient ALO_* variables; envdecode treats an
// empty value as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"ALO_PERSIST", "ALO_CAPTURE", "ALO_TOKEN_PATH", "ALO_DEBUG", "ALO_JSON_LOG"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Persist)
	assert.True(t, cfg.Capture)
	assert.Empty(t, cfg.TokenPath)
}

func TestLoadConfigFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "persist: 1\ncapture: false\ntoken_path: /tmp/tok.json\n")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Persist)
	assert.False(t, cfg.Capture)
	assert.Equal(t, "/tmp/tok.json", cfg.TokenPath)
}

func TestLoadConfigFromDefaultPath(t *testing.T) {
	clearEnv(t)
	cfgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	require.NoError(t, os.MkdirAll(filepath.Join(cfgDir, "open-alo"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfgDir, "open-alo", "alo.yaml"), []byte("persist: 0\n"), 0o644))

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Persist)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "persist: 1\ndebug: false\n")
	t.Setenv("ALO_PERSIST", "0")
	t.Setenv("ALO_DEBUG", "true")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Persist)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigRejectsBadPersist(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "persist: 7\n")
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist")
}

func TestLoadConfigBadYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "persist: [nonsense\n")
	_, err := loadConfig(path)
	require.Error(t, err)
}
