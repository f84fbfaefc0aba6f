package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRead_Defaults(t *testing.T) {
	cfg, err := Read(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Resilience.PollInterval())
	assert.Equal(t, 7*time.Second, cfg.Resilience.UIUpdateThreshold())
	assert.Equal(t, 20*time.Minute, cfg.Resilience.SessionTTL())
	assert.Equal(t, 5*time.Minute, cfg.Cleanup.PollInterval())
	assert.Zero(t, cfg.Cleanup.MaxAge())
	assert.Equal(t, 3, cfg.Cleanup.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.GCInterval)
	assert.Equal(t, time.Hour, cfg.Cache.InstitutionTTL)
	assert.Equal(t, "preferences.yaml", cfg.Preferences.Path)
	assert.Equal(t, 5*time.Second, cfg.Performance.Timeout)
}

func TestRead_File(t *testing.T) {
	path := writeConfig(t, `
server_port: "9090"
log_level: debug
cache:
  path: /var/lib/router
  institution_ttl: 30m
resilience:
  poll_interval_seconds: 2
cleanup:
  connection_max_age_minutes: 60
performance:
  endpoint: http://perf.internal:8080
aggregators:
  mx:
    test_adapter: sandbox
  finicity: {}
`)
	cfg, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "/var/lib/router", cfg.Cache.Path)
	assert.Equal(t, 30*time.Minute, cfg.Cache.InstitutionTTL)
	assert.Equal(t, 2*time.Second, cfg.Resilience.PollInterval())
	assert.Equal(t, time.Hour, cfg.Cleanup.MaxAge())
	assert.Equal(t, "http://perf.internal:8080", cfg.Performance.Endpoint)
	assert.Equal(t, map[string]string{"mx": "sandbox"}, cfg.TestAdapters())
}

func TestRead_EnvOverrides(t *testing.T) {
	t.Setenv("ROUTER_RESILIENCE_POLL_INTERVAL_SECONDS", "9")
	t.Setenv("ROUTER_DATABASE_URL", "postgres://router@db/router")

	cfg, err := Read(writeConfig(t, "resilience:\n  poll_interval_seconds: 3\n"))
	require.NoError(t, err)

	assert.Equal(t, 9*time.Second, cfg.Resilience.PollInterval())
	assert.Equal(t, "postgres://router@db/router", cfg.DatabaseURL)
}

func TestRead_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "zero poll interval", body: "resilience:\n  poll_interval_seconds: 0\n"},
		{name: "negative max age", body: "cleanup:\n  connection_max_age_minutes: -1\n"},
		{name: "bad log level", body: "log_level: loud\n"},
		{name: "auth without secret", body: "auth:\n  enabled: true\n"},
		{name: "bad performance endpoint", body: "performance:\n  endpoint: not a url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestRead_MissingExplicitFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
