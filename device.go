// Package vfioctl contains the domain types for PCI passthrough
// management: device addresses, driver state, and the error types
// surfaced by driver transitions and daemon supervision.
package vfioctl

import (
	"fmt"
	"regexp"
	"strings"
)

// addressRE matches a PCI function address with an optional segment
// (domain) component: [xxxx:]xx:xx.x.
var addressRE = regexp.MustCompile(`^(?:([0-9a-fA-F]{4}):)?([0-9a-fA-F]{2}):([0-9a-fA-F]{2})\.([0-7])$`)

// Address identifies a single PCI function in
// segment:bus:device.function form.
//
// Addresses are always stored normalised (lower-case hex, explicit
// segment). The short form drops a zero segment because that is how
// daemons render the address on their command line and in their
// startup output.
type Address struct {
	Segment  string
	Bus      string
	Device   string
	Function string
}

// ParseAddress parses a PCI address in either full (0000:01:00.0) or
// short (01:00.0) form. A missing segment is taken as 0000.
func ParseAddress(s string) (Address, error) {
	m := addressRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Address{}, fmt.Errorf("invalid PCI address %q", s)
	}
	seg := m[1]
	if seg == "" {
		seg = "0000"
	}
	return Address{
		Segment:  strings.ToLower(seg),
		Bus:      strings.ToLower(m[2]),
		Device:   strings.ToLower(m[3]),
		Function: m[4],
	}, nil
}

// MustParseAddress is ParseAddress that panics on error. For tests and
// compiled-in constants only.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the full form: 0000:01:00.0.
func (a Address) String() string {
	return a.Segment + ":" + a.Bus + ":" + a.Device + "." + a.Function
}

// Short returns the address with a zero segment stripped: 01:00.0.
// Non-zero segments are kept in full.
func (a Address) Short() string {
	if a.Segment == "0000" {
		return a.Bus + ":" + a.Device + "." + a.Function
	}
	return a.String()
}

// Digits returns the short form with punctuation removed, suitable
// for embedding in filenames such as shared-memory artifacts.
func (a Address) Digits() string {
	s := a.Short()
	s = strings.ReplaceAll(s, ":", "")
	return strings.ReplaceAll(s, ".", "")
}

// VendorDevice is a PCI vendor/device ID pair.
type VendorDevice struct {
	Vendor string // 4 hex digits, no 0x prefix
	Device string // 4 hex digits, no 0x prefix
}

// String returns the conventional vendor:device rendering.
func (vd VendorDevice) String() string {
	return vd.Vendor + ":" + vd.Device
}

// SysfsID returns the space-separated form written to a driver's
// new_id attribute.
func (vd VendorDevice) SysfsID() string {
	return vd.Vendor + " " + vd.Device
}

// DriverKind classifies a device's current driver binding.
type DriverKind int

const (
	// DriverNone means no driver is bound to the device.
	DriverNone DriverKind = iota
	// DriverKernel means an in-kernel driver claims the device.
	DriverKernel
	// DriverPassthrough means the passthrough driver claims the device.
	DriverPassthrough
)

// DriverState is a device's driver binding as observed from sysfs.
// It is derived state: always re-read, never cached across operations.
type DriverState struct {
	Kind DriverKind
	// Name is the bound driver's name; empty for DriverNone.
	Name string
}

// StateForDriver classifies a driver name read from sysfs. An empty
// name means unbound; a name equal to passthrough means the device is
// passthrough-bound; anything else is a kernel driver.
func StateForDriver(name, passthrough string) DriverState {
	switch name {
	case "":
		return DriverState{Kind: DriverNone}
	case passthrough:
		return DriverState{Kind: DriverPassthrough, Name: name}
	default:
		return DriverState{Kind: DriverKernel, Name: name}
	}
}

// String renders the state for listings.
func (s DriverState) String() string {
	switch s.Kind {
	case DriverNone:
		return "unbound"
	default:
		return s.Name
	}
}
