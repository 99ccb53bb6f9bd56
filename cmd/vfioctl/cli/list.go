package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// ListCmd prints each managed device with its driver binding and
// daemon state. Read-only: it never mutates device or process state.
type ListCmd struct{}

// Run executes the list command.
func (c *ListCmd) Run(cli *CLI, ctx context.Context) error {
	app, err := cli.newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	managed, err := app.managedDevices()
	if err != nil {
		return err
	}
	if len(managed) == 0 {
		fmt.Println("No managed devices found")
		return nil
	}

	statuses, err := app.mgr.Status(ctx, managed)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tDRIVER\tDAEMON")
	for _, st := range statuses {
		d := "-"
		if st.DaemonRunning {
			d = fmt.Sprintf("pid %d", st.DaemonPID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", st.Address.Short(), st.Driver, d)
	}
	return w.Flush()
}
