package cli

import (
	"context"

	"github.com/frobware/go-vfioctl/lock"
)

// ResetCmd is the coarse fallback: unbind the target devices, then
// unload and reload the kernel driver module so the kernel re-claims
// everything cleanly.
type ResetCmd struct {
	Devices []string `arg:"" optional:"" name:"device" help:"Device addresses (default: all managed devices)."`
}

// Run executes the reset command.
func (c *ResetCmd) Run(cli *CLI, ctx context.Context) error {
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
		return app.mgr.Reset(ctx, targets)
	})
}
