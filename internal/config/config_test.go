package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, key := range []string{"ADDR", "AUTH_TOKEN", "LOG_LEVEL", "LOG_FORMAT", "BARK_URL",
		"BARK_ENABLED", "MODE", "STATE_DIR", "USE_UTC", "RUN_RETENTION", "SHUTDOWN_GRACE"} {
		t.Setenv(envPrefix+key, "")
		os.Unsetenv(envPrefix + key)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultAddr, cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, ModeHTTP, cfg.Mode)
	assert.Equal(t, defaultRunRetention, cfg.RunRetention)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, filepath.Join(dir, "cronplan"), cfg.StateDir)
	assert.Equal(t, time.Local, cfg.Location())
}

func TestLoadEnvThenFlags(t *testing.T) {
	isolate(t)
	t.Setenv("CRONPLAN_ADDR", ":9000")
	t.Setenv("CRONPLAN_USE_UTC", "yes")
	t.Setenv("CRONPLAN_RUN_RETENTION", "7")
	t.Setenv("CRONPLAN_MODE", "both")
	t.Setenv("CRONPLAN_STATE_DIR", "/tmp/cronplan-env")

	cfg, err := Load([]string{"--addr", ":9100", "--log-format", "json", "--shutdown-grace", "2s"})
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 7, cfg.RunRetention)
	assert.Equal(t, ModeBoth, cfg.Mode)
	assert.Equal(t, "/tmp/cronplan-env", cfg.StateDir)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadDotEnvFromConfigDir(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cronplan"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cronplan", ".env"),
		[]byte("CRONPLAN_LOG_LEVEL=debug\nCRONPLAN_AUTH_TOKEN=secret\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CRONPLAN_LOG_LEVEL")
		os.Unsetenv("CRONPLAN_AUTH_TOKEN")
	})

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "secret", cfg.Server.AuthToken)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"mode", []string{"--mode", "grpc"}, nil},
		{"log format", []string{"--log-format", "xml"}, nil},
		{"bark without url", nil, map[string]string{"CRONPLAN_BARK_ENABLED": "true"}},
		{"unknown flag", []string{"--nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}
