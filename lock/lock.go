// Package lock provides a cross-process transition lock using
// flock(2).
//
// The state machine assumes a single orchestrator: transitions mutate
// shared kernel state (the passthrough driver's dynamic-id table) that
// is not scoped per device. Two concurrent vfioctl invocations would
// race each other, so every mutating command runs under an exclusive
// lock on {run}/.lock.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Run acquires an exclusive lock on lockPath, executes fn, then
// releases. Acquisition is non-blocking with backoff and respects ctx
// cancellation, so a second invocation reports contention promptly
// instead of queueing silently behind a stuck one.
func Run(ctx context.Context, lockPath string, fn func(context.Context) error) error {
	f, err := acquire(ctx, lockPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx)
}

func acquire(ctx context.Context, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for transition lock %s: %w", path, ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
