// Package sysfs is the kernel driver-binding control surface: the
// per-device unbind trigger, the per-driver bind and new_id triggers,
// and the read-only attributes (driver symlink, vendor/device IDs,
// class code) the state machine observes.
//
// All paths are derived from a configurable root so tests can operate
// on a fabricated tree instead of /sys. Writes are plain-text trigger
// writes; none of them block until the kernel has acted, which is why
// every mutation is followed by polling elsewhere.
package sysfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	vfioctl "github.com/frobware/go-vfioctl"
)

// FS provides access to the PCI portion of a sysfs tree.
// The zero value is unusable; use New.
type FS struct {
	root string
}

// New returns an FS rooted at the given path, normally "/sys".
func New(root string) FS {
	return FS{root: root}
}

// Root returns the tree root, for diagnostics.
func (f FS) Root() string { return f.root }

func (f FS) devicesDir() string {
	return filepath.Join(f.root, "bus", "pci", "devices")
}

func (f FS) deviceDir(addr vfioctl.Address) string {
	return filepath.Join(f.devicesDir(), addr.String())
}

func (f FS) driverDir(driver string) string {
	return filepath.Join(f.root, "bus", "pci", "drivers", driver)
}

// CurrentDriver resolves the device's driver symlink and returns the
// bound driver's name, or "" when no driver is bound.
func (f FS) CurrentDriver(addr vfioctl.Address) (string, error) {
	target, err := os.Readlink(filepath.Join(f.deviceDir(addr), "driver"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read driver link for %s: %w", addr, err)
	}
	return filepath.Base(target), nil
}

// HasDriver reports whether any driver symlink exists for the device.
func (f FS) HasDriver(addr vfioctl.Address) (bool, error) {
	_, err := os.Lstat(filepath.Join(f.deviceDir(addr), "driver"))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasUnbind reports whether the device exposes an unbind trigger,
// i.e. whether a driver is attached that can be asked to release it.
func (f FS) HasUnbind(addr vfioctl.Address) bool {
	_, err := os.Stat(filepath.Join(f.deviceDir(addr), "driver", "unbind"))
	return err == nil
}

// Unbind asks the device's current driver to release it by writing
// the device address to the driver's unbind trigger.
func (f FS) Unbind(addr vfioctl.Address) error {
	path := filepath.Join(f.deviceDir(addr), "driver", "unbind")
	if err := writeTrigger(path, addr.String()); err != nil {
		return fmt.Errorf("unbind %s: %w", addr, err)
	}
	return nil
}

// HasNewID reports whether the driver exposes a dynamic-id
// registration trigger.
func (f FS) HasNewID(driver string) bool {
	_, err := os.Stat(filepath.Join(f.driverDir(driver), "new_id"))
	return err == nil
}

// RegisterID registers a vendor/device pair with a driver's dynamic-id
// table so the kernel will claim matching devices for it.
func (f FS) RegisterID(driver string, vd vfioctl.VendorDevice) error {
	path := filepath.Join(f.driverDir(driver), "new_id")
	if err := writeTrigger(path, vd.SysfsID()); err != nil {
		return fmt.Errorf("register %s with %s: %w", vd, driver, err)
	}
	return nil
}

// BindTo writes the device address to a driver's bind trigger.
func (f FS) BindTo(driver string, addr vfioctl.Address) error {
	path := filepath.Join(f.driverDir(driver), "bind")
	if err := writeTrigger(path, addr.String()); err != nil {
		return fmt.Errorf("bind %s to %s: %w", addr, driver, err)
	}
	return nil
}

// Probe asks the kernel to re-run driver matching for the device.
func (f FS) Probe(addr vfioctl.Address) error {
	path := filepath.Join(f.root, "bus", "pci", "drivers_probe")
	if err := writeTrigger(path, addr.String()); err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	return nil
}

// VendorDevice reads the device's vendor and device ID attributes.
func (f FS) VendorDevice(addr vfioctl.Address) (vfioctl.VendorDevice, error) {
	vendor, err := f.readAttr(addr, "vendor")
	if err != nil {
		return vfioctl.VendorDevice{}, err
	}
	device, err := f.readAttr(addr, "device")
	if err != nil {
		return vfioctl.VendorDevice{}, err
	}
	return vfioctl.VendorDevice{
		Vendor: strings.TrimPrefix(vendor, "0x"),
		Device: strings.TrimPrefix(device, "0x"),
	}, nil
}

// DevicesByClass enumerates devices whose class attribute starts with
// classPrefix (e.g. "0x010802" for NVMe controllers), in directory
// order, which sysfs keeps sorted by address.
func (f FS) DevicesByClass(classPrefix string) ([]vfioctl.Address, error) {
	entries, err := os.ReadDir(f.devicesDir())
	if err != nil {
		return nil, fmt.Errorf("enumerate PCI devices: %w", err)
	}

	var addrs []vfioctl.Address
	for _, e := range entries {
		addr, err := vfioctl.ParseAddress(e.Name())
		if err != nil {
			continue
		}
		class, err := f.readAttr(addr, "class")
		if err != nil {
			continue
		}
		if strings.HasPrefix(class, classPrefix) {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

// DriverPresent reports whether the named driver is registered on the
// PCI bus, i.e. its module is loaded.
func (f FS) DriverPresent(driver string) bool {
	fi, err := os.Stat(f.driverDir(driver))
	return err == nil && fi.IsDir()
}

// HasIOMMUGroups reports whether the kernel exposes any IOMMU groups.
// An empty or missing iommu_groups directory means the platform cannot
// isolate devices and passthrough is unavailable.
func (f FS) HasIOMMUGroups() bool {
	entries, err := os.ReadDir(filepath.Join(f.root, "kernel", "iommu_groups"))
	return err == nil && len(entries) > 0
}

func (f FS) readAttr(addr vfioctl.Address, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(f.deviceDir(addr), name))
	if err != nil {
		return "", fmt.Errorf("read %s attribute of %s: %w", name, addr, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func writeTrigger(path, value string) error {
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, werr := fh.WriteString(value)
	cerr := fh.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
