package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PANDORA_IDENTITY", "alice")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Identity)
	assert.Equal(t, "http://localhost:7350", cfg.ServerURL)
	assert.Equal(t, "defaultkey", cfg.ServerKey)
	assert.Equal(t, "pandora.events", cfg.AMQPExchange)
	assert.Equal(t, "8083", cfg.HTTPPort)
	assert.False(t, cfg.Debug)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
identity = "alice"
server_url = "https://chat.example.com"
http_port = "9090"
debug = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Identity)
	assert.Equal(t, "https://chat.example.com", cfg.ServerURL)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.True(t, cfg.Debug)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
identity = "alice"
server_url = "https://from-file.example.com"
`)
	t.Setenv("PANDORA_SERVER_URL", "https://from-env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", cfg.ServerURL)
}

func TestLoadRequiresIdentity(t *testing.T) {
	t.Setenv("PANDORA_IDENTITY", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "identity = [broken")
	_, err := Load(path)
	assert.Error(t, err)
}
