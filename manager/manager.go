// Package manager implements the driver binding state machine: it
// observes a device's driver state from sysfs and drives it to a
// target state through unbind/bind transitions.
//
// # Transition model
//
// A device is in one of three states: bound to a kernel driver,
// unbound, or bound to the passthrough driver. Every mutating
// transition starts by running the process Terminator, which is the
// sole authority that no daemon still controls the device. Binding
// always transits through unbound; there is no direct
// kernel-to-passthrough shortcut.
//
// The kernel offers no atomic rebind and no completion signal, so
// each transition writes a trigger and then polls the driver symlink
// until it settles or the budget runs out. Nothing is rolled back on
// failure: every operation is idempotent against already-reached
// states, so a failed invocation is simply re-run.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	vfioctl "github.com/frobware/go-vfioctl"
	"github.com/frobware/go-vfioctl/config"
	"github.com/frobware/go-vfioctl/logging"
	"github.com/frobware/go-vfioctl/proc"
	"github.com/frobware/go-vfioctl/sysfs"
	"github.com/frobware/go-vfioctl/wait"
)

// Manager drives devices between driver bindings.
type Manager struct {
	cfg  config.Config
	fs   sysfs.FS
	term *proc.Terminator
	mod  ModuleReloader
	log  *slog.Logger
}

// New creates a Manager. A nil reloader gets the real modprobe; a nil
// logger gets the logging package default.
func New(cfg config.Config, fs sysfs.FS, term *proc.Terminator, mod ModuleReloader, logger *slog.Logger) *Manager {
	if mod == nil {
		mod = Modprobe{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		cfg:  cfg,
		fs:   fs,
		term: term,
		mod:  mod,
		log:  logger.With("component", "manager"),
	}
}

// State re-reads the device's driver binding from sysfs. Driver state
// is never cached; the whole point of the state machine is to drive
// this value somewhere safely.
func (m *Manager) State(addr vfioctl.Address) (vfioctl.DriverState, error) {
	driver, err := m.fs.CurrentDriver(addr)
	if err != nil {
		return vfioctl.DriverState{}, err
	}
	return vfioctl.StateForDriver(driver, m.cfg.Device.PassthroughDriver), nil
}

// Unbind detaches the device from whatever driver holds it.
//
// The Terminator runs first even when no driver is attached: the
// driver symlink says nothing about whether a daemon is still touching
// the device. The unbind trigger is only written when one exists (an
// unbound device has none), then the driver symlink is polled until
// it disappears.
func (m *Manager) Unbind(ctx context.Context, addr vfioctl.Address) error {
	if err := m.term.Terminate(ctx, addr); err != nil {
		return err
	}

	if m.fs.HasUnbind(addr) {
		if err := m.fs.Unbind(addr); err != nil {
			return err
		}
	}

	err := wait.Until(ctx, m.cfg.Poll.UnbindSpec(), func() (bool, error) {
		has, err := m.fs.HasDriver(addr)
		return !has, err
	})
	if errors.Is(err, wait.ErrTimeout) {
		// Resolve the offending driver purely for the report.
		driver, _ := m.fs.CurrentDriver(addr)
		return vfioctl.UnbindTimeoutError{Address: addr, Driver: driver}
	}
	if err != nil {
		return err
	}

	m.log.Info("device unbound", "device", addr.Short())
	return nil
}

// Bind drives the device to the passthrough driver.
//
// Binding is idempotent: a device already passthrough-bound is left
// alone beyond the Terminator run. Otherwise the device is unbound
// first, the vendor/device pair is registered with the passthrough
// driver's dynamic-id table, a probe is requested, and the passthrough
// symlink is polled into existence.
func (m *Manager) Bind(ctx context.Context, addr vfioctl.Address) error {
	if err := m.term.Terminate(ctx, addr); err != nil {
		return err
	}

	passthrough := m.cfg.Device.PassthroughDriver

	driver, err := m.fs.CurrentDriver(addr)
	if err != nil {
		return err
	}
	if driver == passthrough {
		m.log.Debug("device already passthrough-bound", "device", addr.Short())
		return nil
	}

	if driver != "" {
		if err := m.Unbind(ctx, addr); err != nil {
			return err
		}
	}

	if m.fs.HasNewID(passthrough) {
		vd, err := m.fs.VendorDevice(addr)
		if err != nil {
			return err
		}
		if err := m.fs.RegisterID(passthrough, vd); err != nil {
			return err
		}
		m.log.Debug("registered dynamic id", "device", addr.Short(), "id", vd.String())
	}

	// The id may already be in the table from a previous run, in
	// which case new_id alone rebinds nothing.
	if err := m.fs.Probe(addr); err != nil {
		return err
	}

	bound := func() (bool, error) {
		current, err := m.fs.CurrentDriver(addr)
		return current == passthrough, err
	}

	err = wait.Until(ctx, m.cfg.Poll.BindSpec(), bound)
	if errors.Is(err, wait.ErrTimeout) {
		// drivers_probe is advisory; ask for the binding explicitly
		// before giving up. A failed trigger write is not fatal here,
		// the second poll decides.
		if err := m.fs.BindTo(passthrough, addr); err != nil {
			m.log.Debug("explicit bind trigger failed", "device", addr.Short(), "error", err)
		}
		err = wait.Until(ctx, m.cfg.Poll.BindSpec(), bound)
	}
	if errors.Is(err, wait.ErrTimeout) {
		return vfioctl.BindTimeoutError{Address: addr, Driver: passthrough}
	}
	if err != nil {
		return err
	}

	m.log.Info("device bound to passthrough driver", "device", addr.Short(), "driver", passthrough)
	return nil
}

// Reset is the coarse fallback: unbind every device in the set, then
// unload and reload the kernel driver module, then wait a fixed
// settle delay for kernel-side re-enumeration. It trades per-device
// granularity for a guaranteed clean kernel-driver re-attach.
//
// The first unbind failure aborts the batch; devices already unbound
// stay unbound and a re-run picks up from there.
func (m *Manager) Reset(ctx context.Context, addrs []vfioctl.Address) error {
	for _, addr := range addrs {
		if err := m.Unbind(ctx, addr); err != nil {
			return err
		}
	}

	module := m.cfg.Device.KernelDriver
	m.log.Info("reloading kernel driver module", "module", module)

	if err := m.mod.Remove(ctx, module); err != nil {
		return fmt.Errorf("unload module %s: %w", module, err)
	}
	if err := m.mod.Load(ctx, module); err != nil {
		return fmt.Errorf("load module %s: %w", module, err)
	}

	return m.settle(ctx, m.cfg.Poll.ResetSettle())
}

func (m *Manager) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// DeviceStatus is one row of the read-only listing.
type DeviceStatus struct {
	Address       vfioctl.Address
	Driver        vfioctl.DriverState
	DaemonPID     int32
	DaemonRunning bool
}

// Status reports driver state and daemon liveness for each device.
// It mutates nothing, including the daemon registry: stale rows are
// left for the next mutating operation to clean up.
func (m *Manager) Status(ctx context.Context, addrs []vfioctl.Address) ([]DeviceStatus, error) {
	out := make([]DeviceStatus, 0, len(addrs))
	for _, addr := range addrs {
		state, err := m.State(addr)
		if err != nil {
			return nil, err
		}
		pid, running, err := m.term.ObserveDaemonPID(ctx, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, DeviceStatus{
			Address:       addr,
			Driver:        state,
			DaemonPID:     pid,
			DaemonRunning: running,
		})
	}
	return out, nil
}
