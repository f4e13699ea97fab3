package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ntserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3*time.Second, cfg.Linger())
	assert.Equal(t, "/dev/ntsync", cfg.Sync.Device)
	assert.Contains(t, cfg.SocketPath, "ntserver-")
}

func TestLoadFileOverDefaults(t *testing.T) {
	t.Setenv(EnvSocket, "")
	t.Setenv(EnvMetrics, "")
	path := writeFile(t, `
socket_path: /run/nts/socket
debug_level: 2
persistent: -1
layout: "32"
sync:
  disable: true
context:
  backend: none
  machine: i386
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/nts/socket", cfg.SocketPath)
	assert.Equal(t, time.Duration(-1), cfg.Linger())
	assert.True(t, cfg.Sync.Disable)
	assert.Equal(t, "/dev/ntsync", cfg.Sync.Device, "unset keys keep their default")

	opts, err := cfg.ServerOptions()
	require.NoError(t, err)
	assert.Equal(t, protocol.Layout32, opts.Layout)
	assert.Equal(t, cpucontext.MachineI386, opts.Machine)
	assert.True(t, opts.Trace)
	assert.True(t, opts.SyncDisable)

	copts, err := cfg.ContextOptions()
	require.NoError(t, err)
	assert.Equal(t, cpucontext.KindNone, copts.Kind)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "socket_path: [unterminated"))
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvSocket:     "/tmp/x/socket",
		EnvDebug:      "1",
		EnvSyncDevice: "/dev/null",
		EnvMachine:    "arm64",
		EnvMetrics:    ":9100",
	}
	cfg := Default()
	require.NoError(t, cfg.loadEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	assert.Equal(t, "/tmp/x/socket", cfg.SocketPath)
	assert.Equal(t, DebugDebug, cfg.DebugLevel)
	assert.Equal(t, "/dev/null", cfg.Sync.Device)
	assert.Equal(t, "arm64", cfg.Context.Machine)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	err := cfg.loadEnv(func(k string) (string, bool) {
		if k == EnvDebug {
			return "loud", true
		}
		return "", false
	})
	assert.ErrorIs(t, err, errors.ErrInvalidParameter)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"debug level", func(c *Config) { c.DebugLevel = 3 }},
		{"persistent", func(c *Config) { c.Persistent = -2 }},
		{"request length", func(c *Config) { c.MaxRequestLength = 0 }},
		{"layout", func(c *Config) { c.Layout = "16" }},
		{"backend", func(c *Config) { c.Context.Backend = "kdebug" }},
		{"machine", func(c *Config) { c.Context.Machine = "vax" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), errors.ErrInvalidParameter)
		})
	}
}
