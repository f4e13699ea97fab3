// Package config loads the server configuration: defaults, then an optional
// YAML file, then NTSERVER_* environment overrides. Command-line flags are
// applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/protocol"
	"github.com/wippyai/ntserver/server"
)

// Environment overrides.
const (
	EnvSocket     = "NTSERVER_SOCKET"
	EnvDebug      = "NTSERVER_DEBUG"
	EnvSyncDevice = "NTSERVER_SYNC_DEVICE"
	EnvMachine    = "NTSERVER_MACHINE"
	EnvMetrics    = "NTSERVER_METRICS"
)

// Debug levels.
const (
	DebugInfo  = 0
	DebugDebug = 1
	DebugTrace = 2
)

// Config is the server configuration file.
type Config struct {
	SocketPath string `yaml:"socket_path"`
	DebugLevel int    `yaml:"debug_level"`
	// Persistent is the linger after the last client in seconds; -1 is
	// forever.
	Persistent       int    `yaml:"persistent"`
	MaxRequestLength int    `yaml:"max_request_length"`
	Layout           string `yaml:"layout"`

	Sync    SyncConfig    `yaml:"sync"`
	Context ContextConfig `yaml:"context"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// SyncConfig selects the synchronization primitive path.
type SyncConfig struct {
	Device  string `yaml:"device"`
	Disable bool   `yaml:"disable"`
}

// ContextConfig selects the register backend.
type ContextConfig struct {
	Backend  string `yaml:"backend"`
	Machine  string `yaml:"machine"`
	ProcRoot string `yaml:"proc_root"`
}

// MetricsConfig configures the prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SocketPath:       DefaultSocketPath(),
		Persistent:       3,
		MaxRequestLength: server.DefaultMaxRequestLength,
		Layout:           "host",
		Sync:             SyncConfig{Device: "/dev/ntsync"},
		Context: ContextConfig{
			Backend:  cpucontext.KindAuto,
			Machine:  "auto",
			ProcRoot: "/proc",
		},
	}
}

// DefaultSocketPath is a per-user socket under the temp directory.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("ntserver-%d", os.Getuid()), "socket")
}

// Load reads path over the defaults, applies the environment and
// validates the result. An empty path skips the file; a missing file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.loadEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidParameter, err, "parse "+path)
	}
	return nil
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSocket); ok && v != "" {
		c.SocketPath = v
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.InvalidParameter(errors.PhaseConfig, fmt.Sprintf("%s=%q is not a number", EnvDebug, v))
		}
		c.DebugLevel = n
	}
	if v, ok := lookup(EnvSyncDevice); ok && v != "" {
		c.Sync.Device = v
	}
	if v, ok := lookup(EnvMachine); ok && v != "" {
		c.Context.Machine = v
	}
	if v, ok := lookup(EnvMetrics); ok {
		c.Metrics.Listen = v
	}
	return nil
}

// Validate rejects values the server cannot start with.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return errors.InvalidParameter(errors.PhaseConfig, "socket_path is empty")
	}
	if c.DebugLevel < DebugInfo || c.DebugLevel > DebugTrace {
		return errors.InvalidParameter(errors.PhaseConfig, fmt.Sprintf("debug_level %d out of range", c.DebugLevel))
	}
	if c.Persistent < -1 {
		return errors.InvalidParameter(errors.PhaseConfig, fmt.Sprintf("persistent %d: use -1 to linger forever", c.Persistent))
	}
	if c.MaxRequestLength <= 0 {
		return errors.InvalidParameter(errors.PhaseConfig, fmt.Sprintf("max_request_length %d must be positive", c.MaxRequestLength))
	}
	if _, err := protocol.ParseLayout(c.Layout); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidParameter, err, "layout")
	}
	switch c.Context.Backend {
	case "", cpucontext.KindAuto, cpucontext.KindPtrace, cpucontext.KindMach, cpucontext.KindProcfs, cpucontext.KindNone:
	default:
		return errors.InvalidParameter(errors.PhaseConfig, fmt.Sprintf("unknown context backend %q", c.Context.Backend))
	}
	if _, err := cpucontext.ParseMachine(c.Context.Machine); err != nil {
		return err
	}
	return nil
}

// Linger converts Persistent to the server's linger duration.
func (c Config) Linger() time.Duration {
	if c.Persistent < 0 {
		return -1
	}
	return time.Duration(c.Persistent) * time.Second
}

// ContextOptions returns the register backend selection.
func (c Config) ContextOptions() (cpucontext.Options, error) {
	m, err := cpucontext.ParseMachine(c.Context.Machine)
	if err != nil {
		return cpucontext.Options{}, err
	}
	return cpucontext.Options{Kind: c.Context.Backend, Machine: m, ProcRoot: c.Context.ProcRoot}, nil
}

// ServerOptions maps the configuration onto server options. The register
// backend, host control, registerer and logger are left to the caller.
func (c Config) ServerOptions() (server.Options, error) {
	l, err := protocol.ParseLayout(c.Layout)
	if err != nil {
		return server.Options{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidParameter, err, "layout")
	}
	m, err := cpucontext.ParseMachine(c.Context.Machine)
	if err != nil {
		return server.Options{}, err
	}
	return server.Options{
		Layout:           l,
		Machine:          m,
		SyncDevice:       c.Sync.Device,
		SyncDisable:      c.Sync.Disable,
		MaxRequestLength: c.MaxRequestLength,
		Persistent:       c.Linger(),
		Signals:          true,
		Trace:            c.DebugLevel >= DebugTrace,
	}, nil
}
