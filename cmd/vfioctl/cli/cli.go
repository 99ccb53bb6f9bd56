// Package cli is the vfioctl command surface: thin glue that wires
// configuration, logging and the core packages together and maps user
// intent onto them. All real state lives below; commands only
// sequence calls and print results.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	vfioctl "github.com/frobware/go-vfioctl"
	"github.com/frobware/go-vfioctl/config"
	"github.com/frobware/go-vfioctl/daemon"
	"github.com/frobware/go-vfioctl/logging"
	"github.com/frobware/go-vfioctl/manager"
	"github.com/frobware/go-vfioctl/proc"
	"github.com/frobware/go-vfioctl/registry"
	"github.com/frobware/go-vfioctl/sysfs"
)

// CLI is the root command structure for vfioctl.
type CLI struct {
	Config    string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log       string `name:"log" help:"Log spec (e.g. 'info,manager=debug')." env:"VFIOCTL_LOG"`
	RunDir    string `name:"run-dir" help:"Runtime state directory." default:"${default_run_dir}"`
	SysfsRoot string `name:"sysfs-root" hidden:"" default:"/sys"`

	List   ListCmd   `cmd:"" help:"List managed devices, their driver and daemon state."`
	Bind   BindCmd   `cmd:"" help:"Bind devices to the passthrough driver and start their daemons."`
	Unbind UnbindCmd `cmd:"" help:"Detach devices from their current driver."`
	Reset  ResetCmd  `cmd:"" help:"Unbind devices and reload the kernel driver module."`
}

// KongOptions returns the Kong configuration for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("vfioctl"),
		kong.Description("PCI passthrough driver rebinding and daemon supervision."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
			"default_run_dir":     config.DefaultRuntimeDirs().Base(),
		},
	}
}

// app holds the wired-up core for one command invocation.
type app struct {
	cfg  config.Config
	dirs config.RuntimeDirs
	fs   sysfs.FS
	reg  *registry.Store
	term *proc.Terminator
	mod  manager.ModuleReloader
	mgr  *manager.Manager
	sup  *daemon.Supervisor
	log  *slog.Logger
}

// newApp builds the application. Every command requires root: even
// the listing reads other processes' command lines, and the mutating
// commands write sysfs triggers and signal daemons.
func (c *CLI) newApp(ctx context.Context) (*app, error) {
	if os.Geteuid() != 0 {
		return nil, fmt.Errorf("vfioctl must be run as root")
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		CLISpec:    c.Log,
		EnvSpec:    os.Getenv(logging.EnvVar),
		ConfigSpec: cfg.Logging.Level,
		Format:     format,
	})
	if err != nil {
		return nil, err
	}

	dirs, err := config.NewRuntimeDirs(c.RunDir)
	if err != nil {
		return nil, err
	}
	if err := dirs.EnsureDirectories(); err != nil {
		return nil, err
	}

	reg, err := registry.Open(dirs.DBPath())
	if err != nil {
		return nil, err
	}

	fs := sysfs.New(c.SysfsRoot)
	term := proc.NewTerminator(proc.SystemTable{}, reg, cfg.Poll.TerminateSpec(),
		cfg.Daemon.ArtifactDir, cfg.Daemon.ArtifactPrefix, logger)
	mod := manager.Modprobe{}
	mgr := manager.New(cfg, fs, term, mod, logger)
	sup := daemon.New(cfg, dirs, mgr, term, reg, logger)

	return &app{
		cfg:  cfg,
		dirs: dirs,
		fs:   fs,
		reg:  reg,
		term: term,
		mod:  mod,
		mgr:  mgr,
		sup:  sup,
		log:  logger,
	}, nil
}

// Close releases the registry.
func (a *app) Close() error {
	return a.reg.Close()
}

// checkPrerequisites verifies the host can do passthrough at all:
// IOMMU groups must exist and the passthrough driver must be present,
// loading its module if necessary. Every command that touches device
// state runs this first and fails the whole invocation if it does not
// hold.
func (a *app) checkPrerequisites(ctx context.Context) error {
	if !a.fs.HasIOMMUGroups() {
		return vfioctl.PrerequisiteError{Reason: "no IOMMU groups found; enable the IOMMU in firmware and kernel"}
	}

	passthrough := a.cfg.Device.PassthroughDriver
	if a.fs.DriverPresent(passthrough) {
		return nil
	}
	if err := a.mod.Load(ctx, passthrough); err != nil {
		return vfioctl.PrerequisiteError{Reason: fmt.Sprintf("cannot load %s: %v", passthrough, err)}
	}
	if !a.fs.DriverPresent(passthrough) {
		return vfioctl.PrerequisiteError{Reason: fmt.Sprintf("driver %s not present after module load", passthrough)}
	}
	return nil
}

// managedDevices enumerates the managed hardware class.
func (a *app) managedDevices() ([]vfioctl.Address, error) {
	return a.fs.DevicesByClass(a.cfg.Device.ClassPrefix)
}

// resolveTargets maps user-supplied device arguments onto the managed
// device list, preserving argument order. No arguments selects every
// managed device. An argument that does not name a managed device
// fails before any mutating operation is attempted.
func resolveTargets(args []string, managed []vfioctl.Address) ([]vfioctl.Address, error) {
	if len(args) == 0 {
		return managed, nil
	}

	out := make([]vfioctl.Address, 0, len(args))
	for _, raw := range args {
		addr, err := vfioctl.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		found := false
		for _, m := range managed {
			if m == addr {
				found = true
				break
			}
		}
		if !found {
			return nil, vfioctl.DeviceNotFoundError{Raw: raw}
		}
		out = append(out, addr)
	}
	return out, nil
}

// targets is the shared preamble for device-set commands.
func (a *app) targets(args []string) ([]vfioctl.Address, error) {
	managed, err := a.managedDevices()
	if err != nil {
		return nil, err
	}
	return resolveTargets(args, managed)
}
