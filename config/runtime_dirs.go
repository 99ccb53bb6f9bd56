package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// RuntimeDirs holds vfioctl's runtime paths:
//
//	{base}/           - runtime root
//	{base}/db/        - daemon registry database
//	{base}/capture/   - transient daemon startup captures
//	{base}/.lock      - global transition lock
//
// RuntimeDirs is immutable after construction; use NewRuntimeDirs.
type RuntimeDirs struct {
	base    string
	db      string
	capture string
	lock    string
}

// DefaultRuntimeDirs returns RuntimeDirs with production defaults.
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs("/run/vfioctl")
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs creates RuntimeDirs rooted at base, which must be an
// absolute path.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	return RuntimeDirs{
		base:    base,
		db:      filepath.Join(base, "db"),
		capture: filepath.Join(base, "capture"),
		lock:    filepath.Join(base, ".lock"),
	}, nil
}

// Base returns the runtime root path.
func (d RuntimeDirs) Base() string { return d.base }

// DB returns the registry database directory.
func (d RuntimeDirs) DB() string { return d.db }

// Capture returns the startup capture directory.
func (d RuntimeDirs) Capture() string { return d.capture }

// Lock returns the global transition lock file path.
func (d RuntimeDirs) Lock() string { return d.lock }

// DBPath returns the full path to the registry database file.
func (d RuntimeDirs) DBPath() string {
	return filepath.Join(d.db, "registry.db")
}

// EnsureDirectories creates the runtime directories. Call at startup
// to fail fast on permission problems.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db, d.capture} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
