// Package config handles vfioctl configuration.
//
// Configuration is loaded with overlay semantics:
//
//  1. Start with built-in defaults (embedded from default.toml)
//  2. Overlay with config file values (if the file exists)
//  3. CLI flags and environment variables override at runtime
//
// A valid configuration is therefore always available. If the config
// file exists but is invalid, Load returns an error rather than
// silently falling back to defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/frobware/go-vfioctl/wait"
)

//go:embed default.toml
var defaultConfigTOML string

// DefaultConfigPath is the default path to the vfioctl config file.
const DefaultConfigPath = "/etc/vfioctl/vfioctl.toml"

// Config is the top-level vfioctl configuration.
type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Daemon  DaemonConfig  `toml:"daemon"`
	Poll    PollConfig    `toml:"poll"`
	Logging LoggingConfig `toml:"logging"`
}

// DeviceConfig names the managed hardware class and the drivers a
// device moves between.
type DeviceConfig struct {
	// ClassPrefix is matched against each device's sysfs class
	// attribute, 0x-prefixed (e.g. "0x010802" for NVMe).
	ClassPrefix string `toml:"class_prefix"`
	// KernelDriver is the in-kernel driver that normally claims
	// the device, and the module Reset reloads.
	KernelDriver string `toml:"kernel_driver"`
	// PassthroughDriver relinquishes the device to user space.
	PassthroughDriver string `toml:"passthrough_driver"`
}

// DaemonConfig describes the user-space daemon that owns a
// passthrough-bound device.
type DaemonConfig struct {
	// Name is the daemon executable's base name.
	Name string `toml:"name"`
	// Paths are candidate executable locations, tried in order.
	// Relative entries are resolved against the vfioctl binary's
	// own directory.
	Paths []string `toml:"paths"`
	// ArtifactDir holds the daemon's shared-memory artifacts.
	ArtifactDir string `toml:"artifact_dir"`
	// ArtifactPrefix plus the device address digits names the
	// per-device artifact.
	ArtifactPrefix string `toml:"artifact_prefix"`
	// StartupTimeoutSeconds bounds the wait for the daemon's first
	// startup output.
	StartupTimeoutSeconds int `toml:"startup_timeout_seconds"`
}

// PollConfig holds the fixed polling budgets. Intervals are constant:
// the underlying kernel operations settle in bounded, short time, and
// backoff would only delay surfacing real failures.
type PollConfig struct {
	IntervalMS         int `toml:"interval_ms"`
	TerminateAttempts  int `toml:"terminate_attempts"`
	UnbindAttempts     int `toml:"unbind_attempts"`
	BindAttempts       int `toml:"bind_attempts"`
	ResetSettleSeconds int `toml:"reset_settle_seconds"`
}

// LoggingConfig controls logging behaviour.
type LoggingConfig struct {
	// Level is the log spec (e.g. "info" or "info,manager=debug").
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

// Interval returns the fixed polling interval.
func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// TerminateSpec is the budget for confirming a daemon dead (~0.5s by
// default).
func (p PollConfig) TerminateSpec() wait.Spec {
	return wait.Spec{Interval: p.Interval(), MaxAttempts: p.TerminateAttempts}
}

// UnbindSpec is the budget for a driver symlink to disappear (~2s by
// default).
func (p PollConfig) UnbindSpec() wait.Spec {
	return wait.Spec{Interval: p.Interval(), MaxAttempts: p.UnbindAttempts}
}

// BindSpec is the budget for the passthrough symlink to appear (~2s
// by default).
func (p PollConfig) BindSpec() wait.Spec {
	return wait.Spec{Interval: p.Interval(), MaxAttempts: p.BindAttempts}
}

// ResetSettle is the fixed delay after a module reload for kernel-side
// re-enumeration.
func (p PollConfig) ResetSettle() time.Duration {
	return time.Duration(p.ResetSettleSeconds) * time.Second
}

// StartupTimeout bounds the wait for daemon startup output.
func (d DaemonConfig) StartupTimeout() time.Duration {
	return time.Duration(d.StartupTimeoutSeconds) * time.Second
}

// StartupSpec converts the startup timeout into a polling budget at
// the given interval.
func (d DaemonConfig) StartupSpec(interval time.Duration) wait.Spec {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	attempts := int(d.StartupTimeout() / interval)
	if attempts < 1 {
		attempts = 1
	}
	return wait.Spec{Interval: interval, MaxAttempts: attempts}
}

// Default returns the configuration embedded from default.toml.
func Default() Config {
	var cfg Config
	if _, err := toml.Decode(defaultConfigTOML, &cfg); err != nil {
		// default.toml is embedded at build time; this cannot
		// happen with a well-formed source tree.
		panic(fmt.Sprintf("embedded default.toml: %v", err))
	}
	return cfg
}

// Load reads configuration from path with overlay semantics: a
// missing file yields the defaults, a present file overlays them, an
// invalid file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(b), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
