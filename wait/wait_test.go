package wait_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/frobware/go-vfioctl/wait"
)

func TestUntil_ExhaustsExactBudget(t *testing.T) {
	spec := wait.Spec{Interval: time.Millisecond, MaxAttempts: 20}

	attempts := 0
	err := wait.Until(context.Background(), spec, func() (bool, error) {
		attempts++
		return false, nil
	})

	if !errors.Is(err, wait.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if attempts != 20 {
		t.Errorf("attempts = %d, want exactly 20", attempts)
	}
}

func TestUntil_StopsOnSuccess(t *testing.T) {
	spec := wait.Spec{Interval: time.Millisecond, MaxAttempts: 50}

	attempts := 0
	err := wait.Until(context.Background(), spec, func() (bool, error) {
		attempts++
		return attempts == 3, nil
	})

	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestUntil_DoesNotCheckImmediately(t *testing.T) {
	spec := wait.Spec{Interval: 20 * time.Millisecond, MaxAttempts: 1}

	start := time.Now()
	err := wait.Until(context.Background(), spec, func() (bool, error) {
		return true, nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Until: %v", err)
	}
	if elapsed < spec.Interval {
		t.Errorf("first check after %v, want at least one interval (%v)", elapsed, spec.Interval)
	}
}

func TestUntil_PropagatesConditionError(t *testing.T) {
	spec := wait.Spec{Interval: time.Millisecond, MaxAttempts: 10}
	boom := errors.New("boom")

	attempts := 0
	err := wait.Until(context.Background(), spec, func() (bool, error) {
		attempts++
		return false, boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestUntil_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := wait.Until(ctx, wait.Spec{Interval: time.Hour, MaxAttempts: 1}, func() (bool, error) {
		t.Fatal("condition evaluated after cancellation")
		return false, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSpec_Budget(t *testing.T) {
	spec := wait.Spec{Interval: 100 * time.Millisecond, MaxAttempts: 20}
	if got, want := spec.Budget(), 2*time.Second; got != want {
		t.Errorf("Budget() = %v, want %v", got, want)
	}
}
