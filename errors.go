package vfioctl

import (
	"fmt"
	"time"
)

// PrerequisiteError is returned when the host cannot do passthrough at
// all: no IOMMU groups, or the passthrough driver cannot be loaded.
type PrerequisiteError struct {
	Reason string
}

func (e PrerequisiteError) Error() string {
	return fmt.Sprintf("passthrough prerequisite not met: %s", e.Reason)
}

// TerminationTimeoutError is returned when a daemon controlling a
// device could not be confirmed dead within the polling budget. The
// device must not be rebound while its controller may still be alive.
type TerminationTimeoutError struct {
	Address Address
}

func (e TerminationTimeoutError) Error() string {
	return fmt.Sprintf("daemon for device %s did not exit", e.Address.Short())
}

// ArtifactCleanupError is returned when a stale shared-memory artifact
// for a device could not be removed. A leftover artifact could be
// mistaken for a live daemon's channel.
type ArtifactCleanupError struct {
	Path string
	Err  error
}

func (e ArtifactCleanupError) Error() string {
	return fmt.Sprintf("failed to remove stale artifact %s: %v", e.Path, e.Err)
}

func (e ArtifactCleanupError) Unwrap() error { return e.Err }

// UnbindTimeoutError is returned when a device's driver symlink did
// not disappear within the polling budget. Driver names the binding
// that refused to let go, resolved for diagnostics only.
type UnbindTimeoutError struct {
	Address Address
	Driver  string
}

func (e UnbindTimeoutError) Error() string {
	if e.Driver == "" {
		return fmt.Sprintf("device %s did not unbind", e.Address.Short())
	}
	return fmt.Sprintf("device %s did not unbind from driver %s", e.Address.Short(), e.Driver)
}

// BindTimeoutError is returned when the passthrough driver symlink did
// not appear within the polling budget.
type BindTimeoutError struct {
	Address Address
	Driver  string
}

func (e BindTimeoutError) Error() string {
	return fmt.Sprintf("device %s did not bind to driver %s", e.Address.Short(), e.Driver)
}

// DaemonExecutableNotFoundError is returned when no daemon executable
// exists at any of the configured candidate locations.
type DaemonExecutableNotFoundError struct {
	Name     string
	Searched []string
}

func (e DaemonExecutableNotFoundError) Error() string {
	return fmt.Sprintf("daemon executable %s not found (searched %v)", e.Name, e.Searched)
}

// DaemonStartupError is returned when the daemon produced output but
// never emitted its readiness marker. Output is the captured startup
// output, verbatim, for diagnosis.
type DaemonStartupError struct {
	Address Address
	Output  string
}

func (e DaemonStartupError) Error() string {
	return fmt.Sprintf("daemon for device %s failed to start: %s", e.Address.Short(), e.Output)
}

// DaemonStartupTimeoutError is returned when the daemon produced no
// output at all within the startup timeout.
type DaemonStartupTimeoutError struct {
	Address Address
	Timeout time.Duration
}

func (e DaemonStartupTimeoutError) Error() string {
	return fmt.Sprintf("daemon for device %s produced no output within %s", e.Address.Short(), e.Timeout)
}

// DeviceNotFoundError is returned when a user-specified address does
// not match any device of the managed class. Raw preserves the
// argument as given.
type DeviceNotFoundError struct {
	Raw string
}

func (e DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %s is not a managed device", e.Raw)
}
