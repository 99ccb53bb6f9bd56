package proc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	vfioctl "github.com/frobware/go-vfioctl"
	"github.com/frobware/go-vfioctl/logging"
	"github.com/frobware/go-vfioctl/wait"
)

// Registry is the daemon PID registry consulted before falling back
// to a process-table scan. Implemented by the registry package.
//
// The registry is a hint, never an authority: a recorded PID is only
// believed if the live process table confirms it, and stale records
// are forgotten on sight.
type Registry interface {
	Lookup(ctx context.Context, addr vfioctl.Address) (pid int32, ok bool, err error)
	Forget(ctx context.Context, addr vfioctl.Address) error
}

// Terminator guarantees that no daemon process controlling a given
// device survives, and that no stale shared-memory artifact for the
// device remains.
type Terminator struct {
	table       Table
	registry    Registry
	poll        wait.Spec
	artifactDir string
	prefix      string
	log         *slog.Logger
}

// NewTerminator creates a Terminator. registry may be nil, in which
// case only the command-line scan is used. artifactDir is where
// daemons place their shared-memory artifacts (normally /dev/shm) and
// prefix is the fixed artifact name prefix.
func NewTerminator(table Table, registry Registry, poll wait.Spec, artifactDir, prefix string, logger *slog.Logger) *Terminator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Terminator{
		table:       table,
		registry:    registry,
		poll:        poll,
		artifactDir: artifactDir,
		prefix:      prefix,
		log:         logger.With("component", "proc"),
	}
}

// matching returns the PIDs of all processes whose command line
// contains the device's short address.
func (t *Terminator) matching(ctx context.Context, addr vfioctl.Address) ([]int32, error) {
	entries, err := t.table.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan process table: %w", err)
	}

	var pids []int32
	for _, e := range entries {
		if strings.Contains(e.Cmdline, addr.Short()) {
			pids = append(pids, e.PID)
		}
	}
	return pids, nil
}

// DaemonPID reports the live daemon controlling the device, if any.
// The registry entry is checked against the live process table first;
// the command-line scan remains as a compatibility fallback for
// daemons started outside this tool. A registry entry that turns out
// stale is deleted on the way through.
func (t *Terminator) DaemonPID(ctx context.Context, addr vfioctl.Address) (int32, bool, error) {
	return t.daemonPID(ctx, addr, true)
}

// ObserveDaemonPID is DaemonPID without the self-healing: a stale
// registry entry is ignored rather than deleted, so read-only callers
// mutate nothing.
func (t *Terminator) ObserveDaemonPID(ctx context.Context, addr vfioctl.Address) (int32, bool, error) {
	return t.daemonPID(ctx, addr, false)
}

func (t *Terminator) daemonPID(ctx context.Context, addr vfioctl.Address, heal bool) (int32, bool, error) {
	if t.registry != nil {
		pid, ok, err := t.registry.Lookup(ctx, addr)
		if err != nil {
			return 0, false, err
		}
		if ok {
			live, err := t.pidMatches(ctx, pid, addr)
			if err != nil {
				return 0, false, err
			}
			if live {
				return pid, true, nil
			}
			// Stale record; fall through to the scan.
			if heal {
				if err := t.registry.Forget(ctx, addr); err != nil {
					return 0, false, err
				}
				t.log.Debug("dropped stale registry entry", "device", addr.Short(), "pid", pid)
			}
		}
	}

	pids, err := t.matching(ctx, addr)
	if err != nil {
		return 0, false, err
	}
	if len(pids) == 0 {
		return 0, false, nil
	}
	return pids[0], true, nil
}

func (t *Terminator) pidMatches(ctx context.Context, pid int32, addr vfioctl.Address) (bool, error) {
	entries, err := t.table.Processes(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.PID == pid && strings.Contains(e.Cmdline, addr.Short()) {
			return true, nil
		}
	}
	return false, nil
}

// Terminate kills every process controlling the device, polls until
// none remain, and removes the device's shared-memory artifact.
//
// Killing is forceful (SIGKILL): the daemon holds the device hardware
// and a graceful shutdown handshake cannot be trusted mid-transition.
// On poll exhaustion the transition must not proceed, because a live
// daemon still touching the device would corrupt the rebind; the
// caller gets TerminationTimeoutError.
func (t *Terminator) Terminate(ctx context.Context, addr vfioctl.Address) error {
	pids, err := t.matching(ctx, addr)
	if err != nil {
		return err
	}

	if len(pids) > 0 {
		t.log.Info("terminating daemon", "device", addr.Short(), "pids", pids)
		for _, pid := range pids {
			if err := t.table.Kill(pid); err != nil {
				return fmt.Errorf("kill pid %d: %w", pid, err)
			}
		}

		err = wait.Until(ctx, t.poll, func() (bool, error) {
			remaining, err := t.matching(ctx, addr)
			if err != nil {
				return false, err
			}
			return len(remaining) == 0, nil
		})
		if errors.Is(err, wait.ErrTimeout) {
			return vfioctl.TerminationTimeoutError{Address: addr}
		}
		if err != nil {
			return err
		}
	}

	if t.registry != nil {
		if err := t.registry.Forget(ctx, addr); err != nil {
			return err
		}
	}

	return t.cleanArtifact(addr)
}

// ArtifactPath returns the shared-memory artifact path for a device:
// a fixed prefix concatenated with the address digits.
func (t *Terminator) ArtifactPath(addr vfioctl.Address) string {
	return filepath.Join(t.artifactDir, t.prefix+addr.Digits())
}

func (t *Terminator) cleanArtifact(addr vfioctl.Address) error {
	path := t.ArtifactPath(addr)
	err := os.Remove(path)
	if err == nil {
		t.log.Debug("removed stale artifact", "path", path)
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return vfioctl.ArtifactCleanupError{Path: path, Err: err}
}
