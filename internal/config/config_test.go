// ABOUTME: Tests for configuration loading, env expansion, and duration parsing
// ABOUTME: Covers defaults, validation failures, and the liveness timeout derivation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes content to a temp config file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Complete(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/fleet.db"
agents:
  poll_interval: "15s"
  liveness_timeout: "1m"
  command_timeout: "2m"
  sweep_interval: "5s"
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/fleet.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Agents.PollInterval)
	assert.Equal(t, time.Minute, cfg.Agents.LivenessTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Agents.CommandTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agents.SweepInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/fleet.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, cfg.Agents.PollInterval)
	assert.Equal(t, 3*DefaultPollInterval, cfg.Agents.LivenessTimeout)
	assert.Equal(t, DefaultCommandTimeout, cfg.Agents.CommandTimeout)
	assert.Equal(t, DefaultSweepInterval, cfg.Agents.SweepInterval)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_LivenessDefaultsToTriplePollInterval(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/fleet.db"
agents:
  poll_interval: "10s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Agents.LivenessTimeout)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("FLEET_TEST_DB_PATH", "/data/expanded.db")

	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "${FLEET_TEST_DB_PATH}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/expanded.db", cfg.Database.Path)
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "${FLEET_DEFINITELY_UNSET_VAR}"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "/tmp/fleet.db"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "localhost:8080"
`,
			wantErr: "database.path is required",
		},
		{
			name: "liveness shorter than poll interval",
			content: `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/fleet.db"
agents:
  poll_interval: "30s"
  liveness_timeout: "10s"
`,
			wantErr: "liveness_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: "/tmp/fleet.db"
agents:
  command_timeout: "five minutes"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	_, err := Load(path)
	require.Error(t, err)
}
