package cli

import (
	"context"

	"github.com/frobware/go-vfioctl/lock"
)

// BindCmd drives devices to the passthrough driver and ensures a
// ready daemon controls each one. Devices are processed one at a
// time in argument order; the first failure aborts the batch, leaving
// completed devices bound (safe: re-running is idempotent).
type BindCmd struct {
	Devices []string `arg:"" optional:"" name:"device" help:"Device addresses (default: all managed devices)."`
}

// Run executes the bind command.
func (c *BindCmd) Run(cli *CLI, ctx context.Context) error {
	app, err := cli.newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.checkPrerequisites(ctx); err != nil {
		return err
	}

	targets, err := app.targets(c.Devices)
	if err != nil {
		return err
	}

	return lock.Run(ctx, app.dirs.Lock(), func(ctx context.Context) error {
		for _, addr := range targets {
			if err := app.sup.Ensure(ctx, addr); err != nil {
				return err
			}
		}
		return nil
	})
}
