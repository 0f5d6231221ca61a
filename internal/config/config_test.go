package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "fake", cfg.HAL.Backend)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "drillctl/status", cfg.Telemetry.MQTTTopic)
	assert.Equal(t, 60, cfg.Security.TokenTTLMin)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  host: 127.0.0.1
  port: 9091
hal:
  backend: simulator
  simulator_url: http://localhost:9090
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, "simulator", cfg.HAL.Backend)
	assert.Equal(t, "http://localhost:9090", cfg.HAL.SimulatorURL)
	// Untouched defaults should still apply alongside the override.
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_MalformedFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
