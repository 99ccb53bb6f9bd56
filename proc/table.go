// Package proc terminates daemon processes that control a device and
// confirms they are gone. It is the sole authority that a device has
// no live controller: every driver transition runs the Terminator
// first, even when no daemon is expected.
package proc

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// Entry is one process-table row: just enough to match a daemon by
// its command line.
type Entry struct {
	PID     int32
	Cmdline string
}

// Table abstracts the live process table so tests can substitute a
// fake. The real implementation is SystemTable.
type Table interface {
	// Processes returns a snapshot of all visible processes.
	Processes(ctx context.Context) ([]Entry, error)
	// Kill delivers SIGKILL. A process that is already gone is not
	// an error.
	Kill(pid int32) error
}

// SystemTable reads the real process table via gopsutil.
type SystemTable struct{}

// Processes implements Table. Processes that exit mid-scan are
// skipped rather than failing the snapshot.
func (SystemTable) Processes(ctx context.Context) ([]Entry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{PID: p.Pid, Cmdline: cmdline})
	}
	return entries, nil
}

// Kill implements Table.
func (SystemTable) Kill(pid int32) error {
	err := unix.Kill(int(pid), unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
