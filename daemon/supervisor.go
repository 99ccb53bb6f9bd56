// Package daemon launches the user-space daemon that takes ownership
// of a passthrough-bound device and confirms it reached readiness.
//
// The daemon contract is small: the executable takes the device's
// short address as its sole argument, runs detached, and emits a line
// containing that address followed by the token "loaded" once it has
// the device. The supervisor captures the daemon's combined output in
// a transient file, polls the capture for first output, then checks
// it for the readiness marker. The capture is deleted either way.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"syscall"

	vfioctl "github.com/frobware/go-vfioctl"
	"github.com/frobware/go-vfioctl/config"
	"github.com/frobware/go-vfioctl/logging"
	"github.com/frobware/go-vfioctl/manager"
	"github.com/frobware/go-vfioctl/proc"
	"github.com/frobware/go-vfioctl/wait"
)

// Recorder persists which PID was started for which device.
// Implemented by the registry package; nil disables recording.
type Recorder interface {
	Record(ctx context.Context, addr vfioctl.Address, pid int32, daemonPath string) error
}

// Supervisor ensures a ready daemon is controlling a device.
type Supervisor struct {
	cfg  config.Config
	dirs config.RuntimeDirs
	mgr  *manager.Manager
	term *proc.Terminator
	reg  Recorder
	log  *slog.Logger
}

// New creates a Supervisor.
func New(cfg config.Config, dirs config.RuntimeDirs, mgr *manager.Manager, term *proc.Terminator, reg Recorder, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Supervisor{
		cfg:  cfg,
		dirs: dirs,
		mgr:  mgr,
		term: term,
		reg:  reg,
		log:  logger.With("component", "daemon"),
	}
}

// Ensure makes sure a ready daemon controls the device. A device that
// already has a live daemon is left untouched; Ensure never
// double-spawns. Otherwise the device is driven to the passthrough
// driver first, then the daemon is spawned and its startup output
// watched for the readiness marker.
func (s *Supervisor) Ensure(ctx context.Context, addr vfioctl.Address) error {
	pid, running, err := s.term.DaemonPID(ctx, addr)
	if err != nil {
		return err
	}
	if running {
		s.log.Info("daemon already running", "device", addr.Short(), "pid", pid)
		return nil
	}

	if err := s.mgr.Bind(ctx, addr); err != nil {
		return err
	}

	exe, err := s.resolveExecutable()
	if err != nil {
		return err
	}

	return s.spawnAndConfirm(ctx, exe, addr)
}

// resolveExecutable tries the configured candidate locations in
// order. Relative candidates resolve against the directory holding
// the vfioctl binary itself, so a build tree works the same as an
// installed layout.
func (s *Supervisor) resolveExecutable() (string, error) {
	var baseDir string
	if exe, err := os.Executable(); err == nil {
		baseDir = filepath.Dir(exe)
	}

	searched := make([]string, 0, len(s.cfg.Daemon.Paths))
	for _, candidate := range s.cfg.Daemon.Paths {
		path := candidate
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		searched = append(searched, path)

		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		if fi.Mode().Perm()&0o111 == 0 {
			continue
		}
		return path, nil
	}

	return "", vfioctl.DaemonExecutableNotFoundError{Name: s.cfg.Daemon.Name, Searched: searched}
}

func (s *Supervisor) spawnAndConfirm(ctx context.Context, exe string, addr vfioctl.Address) error {
	capture, err := os.CreateTemp(s.dirs.Capture(), s.cfg.Daemon.Name+"-*.out")
	if err != nil {
		return fmt.Errorf("create startup capture: %w", err)
	}
	defer func() {
		capture.Close()
		os.Remove(capture.Name())
	}()

	cmd := exec.Command(exe, addr.Short())
	cmd.Stdout = capture
	cmd.Stderr = capture
	// The daemon outlives this invocation; give it its own session
	// so it is not tied to our terminal or signal group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon %s for %s: %w", exe, addr.Short(), err)
	}
	pid := int32(cmd.Process.Pid)
	_ = cmd.Process.Release()

	s.log.Info("daemon started", "device", addr.Short(), "pid", pid, "exe", exe)

	if s.reg != nil {
		if err := s.reg.Record(ctx, addr, pid, exe); err != nil {
			return err
		}
	}

	spec := s.cfg.Daemon.StartupSpec(s.cfg.Poll.Interval())
	err = wait.Until(ctx, spec, func() (bool, error) {
		fi, err := os.Stat(capture.Name())
		if err != nil {
			return false, err
		}
		return fi.Size() > 0, nil
	})
	if errors.Is(err, wait.ErrTimeout) {
		return vfioctl.DaemonStartupTimeoutError{Address: addr, Timeout: s.cfg.Daemon.StartupTimeout()}
	}
	if err != nil {
		return err
	}

	output, err := os.ReadFile(capture.Name())
	if err != nil {
		return fmt.Errorf("read startup capture: %w", err)
	}
	if !Ready(output, addr) {
		return vfioctl.DaemonStartupError{Address: addr, Output: string(output)}
	}

	s.log.Info("daemon confirmed ready", "device", addr.Short(), "pid", pid)
	return nil
}

// Ready reports whether the captured startup output contains the
// readiness marker: the device's short address followed by "loaded".
func Ready(output []byte, addr vfioctl.Address) bool {
	re := regexp.MustCompile(regexp.QuoteMeta(addr.Short()) + `.*loaded`)
	return re.Match(output)
}
