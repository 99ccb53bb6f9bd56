package vfioctl_test

import (
	"testing"

	vfioctl "github.com/frobware/go-vfioctl"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		short   string
		digits  string
		wantErr bool
	}{
		{
			name:   "full form",
			in:     "0000:01:00.0",
			want:   "0000:01:00.0",
			short:  "01:00.0",
			digits: "01000",
		},
		{
			name:   "short form gains zero segment",
			in:     "01:00.0",
			want:   "0000:01:00.0",
			short:  "01:00.0",
			digits: "01000",
		},
		{
			name:   "non-zero segment kept in short form",
			in:     "0001:82:00.3",
			want:   "0001:82:00.3",
			short:  "0001:82:00.3",
			digits: "000182003",
		},
		{
			name:   "upper case hex normalised",
			in:     "0000:AF:0B.1",
			want:   "0000:af:0b.1",
			short:  "af:0b.1",
			digits: "af0b1",
		},
		{
			name:    "missing function",
			in:      "0000:01:00",
			wantErr: true,
		},
		{
			name:    "function out of range",
			in:      "0000:01:00.8",
			wantErr: true,
		},
		{
			name:    "empty",
			in:      "",
			wantErr: true,
		},
		{
			name:    "garbage",
			in:      "not-a-device",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := vfioctl.ParseAddress(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAddress(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("String() = %q, want %q", got.String(), tt.want)
			}
			if got.Short() != tt.short {
				t.Errorf("Short() = %q, want %q", got.Short(), tt.short)
			}
			if got.Digits() != tt.digits {
				t.Errorf("Digits() = %q, want %q", got.Digits(), tt.digits)
			}
		})
	}
}

func TestVendorDevice(t *testing.T) {
	vd := vfioctl.VendorDevice{Vendor: "8086", Device: "0953"}
	if got := vd.String(); got != "8086:0953" {
		t.Errorf("String() = %q, want %q", got, "8086:0953")
	}
	if got := vd.SysfsID(); got != "8086 0953" {
		t.Errorf("SysfsID() = %q, want %q", got, "8086 0953")
	}
}

func TestStateForDriver(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		want   vfioctl.DriverKind
		str    string
	}{
		{"unbound", "", vfioctl.DriverNone, "unbound"},
		{"kernel driver", "nvme", vfioctl.DriverKernel, "nvme"},
		{"passthrough driver", "vfio-pci", vfioctl.DriverPassthrough, "vfio-pci"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := vfioctl.StateForDriver(tt.driver, "vfio-pci")
			if got.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.want)
			}
			if got.String() != tt.str {
				t.Errorf("String() = %q, want %q", got.String(), tt.str)
			}
		})
	}
}
