package cli

import (
	"context"

	"github.com/frobware/go-vfioctl/lock"
)

// UnbindCmd detaches devices from whatever driver currently holds
// them, terminating any controlling daemon first.
type UnbindCmd struct {
	Devices []string `arg:"" optional:"" name:"device" help:"Device addresses (default: all managed devices)."`
}

// Run executes the unbind command.
func (c *UnbindCmd) Run(cli *CLI, ctx context.Context) error {
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
			if err := app.mgr.Unbind(ctx, addr); err != nil {
				return err
			}
		}
		return nil
	})
}
