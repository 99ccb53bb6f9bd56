package manager

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ModuleReloader loads and unloads kernel modules. Reset uses it to
// bounce the kernel driver; the CLI uses Load to satisfy the
// passthrough prerequisite.
type ModuleReloader interface {
	Load(ctx context.Context, module string) error
	Remove(ctx context.Context, module string) error
}

// Modprobe shells out to modprobe(8).
type Modprobe struct{}

// Load implements ModuleReloader.
func (Modprobe) Load(ctx context.Context, module string) error {
	return runModprobe(ctx, module)
}

// Remove implements ModuleReloader.
func (Modprobe) Remove(ctx context.Context, module string) error {
	return runModprobe(ctx, "-r", module)
}

func runModprobe(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, "modprobe", args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("modprobe %s: %w: %s", strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("modprobe %s: %w", strings.Join(args, " "), err)
	}
	return nil
}
