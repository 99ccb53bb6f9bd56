// vfioctl rebinds PCI devices between their kernel driver and the
// passthrough driver, and supervises the user-space daemons that own
// passthrough-bound devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-vfioctl/cmd/vfioctl/cli"
)

func main() {
	var c cli.CLI
	kctx := kong.Parse(&c, cli.KongOptions()...)

	// A signal must end the whole orchestration promptly; a poll
	// loop left running against half-applied sysfs writes helps
	// nobody. Nothing is rolled back - every operation is
	// idempotent and safe to re-run.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))

	if err := kctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "vfioctl:", err)
		os.Exit(1)
	}
}
