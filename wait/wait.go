// Package wait provides a bounded fixed-interval polling primitive.
//
// Driver rebinding has no completion signal: sysfs state is mutated by
// writing trigger files and observed by re-reading symlinks. The only
// way to confirm a transition is to re-check at a fixed interval until
// the state settles or a budget runs out. Intervals are constant on
// purpose; the underlying kernel operations complete in short,
// predictable time, and backoff would only mask real failures.
package wait

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the attempt budget is exhausted
// before the condition holds.
var ErrTimeout = errors.New("condition not met within attempt budget")

// Spec is a bounded retry policy: a fixed delay between checks and a
// maximum number of checks.
type Spec struct {
	Interval    time.Duration
	MaxAttempts int
}

// Budget returns the total wall-clock time Until may spend.
func (s Spec) Budget() time.Duration {
	return s.Interval * time.Duration(s.MaxAttempts)
}

// Until polls cond every spec.Interval until it returns true, the
// budget is exhausted, or ctx is cancelled.
//
// The first check happens after one interval, not immediately: sysfs
// state takes at least one interval to settle after a trigger write,
// so an immediate check would always waste an attempt.
//
// A cond error aborts the poll and is returned as-is. On exhaustion
// Until returns ErrTimeout; on cancellation, ctx.Err().
func Until(ctx context.Context, spec Spec, cond func() (bool, error)) error {
	t := time.NewTimer(spec.Interval)
	defer t.Stop()

	for attempt := 0; attempt < spec.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		t.Reset(spec.Interval)
	}

	return ErrTimeout
}
