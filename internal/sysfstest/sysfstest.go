// Package sysfstest builds fake sysfs trees for tests. The layout
// mirrors the slice of /sys that the sysfs package touches:
//
//	{root}/bus/pci/devices/<addr>/{class,vendor,device,driver}
//	{root}/bus/pci/drivers/<name>/{unbind,bind,new_id}
//	{root}/bus/pci/drivers_probe
//	{root}/kernel/iommu_groups/<n>
package sysfstest

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	vfioctl "github.com/frobware/go-vfioctl"
)

// Tree is a fake sysfs root.
type Tree struct {
	Root string
	t    *testing.T
}

// New creates an empty tree under t.TempDir with the drivers_probe
// trigger in place.
func New(t *testing.T) *Tree {
	t.Helper()
	tree := &Tree{Root: t.TempDir(), t: t}
	tree.mkdir("bus/pci/devices")
	tree.mkdir("bus/pci/drivers")
	tree.writeFile("bus/pci/drivers_probe", "")
	return tree
}

// AddIOMMUGroups creates n IOMMU group directories.
func (tr *Tree) AddIOMMUGroups(n int) {
	tr.t.Helper()
	for i := 0; i < n; i++ {
		tr.mkdir(filepath.Join("kernel", "iommu_groups", strconv.Itoa(i)))
	}
}

// AddDriver registers a PCI driver with unbind/bind/new_id triggers.
func (tr *Tree) AddDriver(name string) {
	tr.t.Helper()
	dir := filepath.Join("bus", "pci", "drivers", name)
	tr.mkdir(dir)
	tr.writeFile(filepath.Join(dir, "unbind"), "")
	tr.writeFile(filepath.Join(dir, "bind"), "")
	tr.writeFile(filepath.Join(dir, "new_id"), "")
}

// AddDevice creates a device directory with class/vendor/device
// attributes. Attribute values use the sysfs 0x-prefixed form.
func (tr *Tree) AddDevice(addr vfioctl.Address, class, vendor, device string) {
	tr.t.Helper()
	dir := filepath.Join("bus", "pci", "devices", addr.String())
	tr.mkdir(dir)
	tr.writeFile(filepath.Join(dir, "class"), class+"\n")
	tr.writeFile(filepath.Join(dir, "vendor"), vendor+"\n")
	tr.writeFile(filepath.Join(dir, "device"), device+"\n")
}

// Bind points the device's driver symlink at the named driver. The
// device's own unbind trigger is the driver directory's, matching how
// sysfs exposes it through the symlink.
func (tr *Tree) Bind(addr vfioctl.Address, driver string) {
	tr.t.Helper()
	link := tr.DriverLink(addr)
	_ = os.Remove(link)
	target := filepath.Join(tr.Root, "bus", "pci", "drivers", driver)
	if err := os.Symlink(target, link); err != nil {
		tr.t.Fatalf("symlink %s -> %s: %v", link, target, err)
	}
}

// Release removes the device's driver symlink.
func (tr *Tree) Release(addr vfioctl.Address) {
	tr.t.Helper()
	if err := os.Remove(tr.DriverLink(addr)); err != nil {
		tr.t.Fatalf("remove driver link for %s: %v", addr, err)
	}
}

// DriverLink returns the path of the device's driver symlink.
func (tr *Tree) DriverLink(addr vfioctl.Address) string {
	return filepath.Join(tr.Root, "bus", "pci", "devices", addr.String(), "driver")
}

// TriggerPath returns the path of a driver trigger file.
func (tr *Tree) TriggerPath(driver, trigger string) string {
	return filepath.Join(tr.Root, "bus", "pci", "drivers", driver, trigger)
}

// ReadTrigger returns the current contents of a driver trigger file.
func (tr *Tree) ReadTrigger(driver, trigger string) string {
	tr.t.Helper()
	b, err := os.ReadFile(tr.TriggerPath(driver, trigger))
	if err != nil {
		tr.t.Fatalf("read trigger: %v", err)
	}
	return string(b)
}

func (tr *Tree) mkdir(rel string) {
	tr.t.Helper()
	if err := os.MkdirAll(filepath.Join(tr.Root, rel), 0o755); err != nil {
		tr.t.Fatalf("mkdir %s: %v", rel, err)
	}
}

func (tr *Tree) writeFile(rel, content string) {
	tr.t.Helper()
	if err := os.WriteFile(filepath.Join(tr.Root, rel), []byte(content), 0o644); err != nil {
		tr.t.Fatalf("write %s: %v", rel, err)
	}
}
