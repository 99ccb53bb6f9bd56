package daemon_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfioctl "github.com/frobware/go-vfioctl"
	"github.com/frobware/go-vfioctl/config"
	"github.com/frobware/go-vfioctl/daemon"
	"github.com/frobware/go-vfioctl/internal/sysfstest"
	"github.com/frobware/go-vfioctl/manager"
	"github.com/frobware/go-vfioctl/proc"
	"github.com/frobware/go-vfioctl/sysfs"
)

const nvmeClass = "0x010802"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubTable struct {
	mu      sync.Mutex
	entries []proc.Entry
}

func (s *stubTable) Processes(ctx context.Context) ([]proc.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]proc.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *stubTable) Kill(pid int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.PID != pid {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records map[string]int32
}

func (f *fakeRecorder) Record(ctx context.Context, addr vfioctl.Address, pid int32, daemonPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records == nil {
		f.records = map[string]int32{}
	}
	f.records[addr.String()] = pid
	return nil
}

// writeScript creates an executable shell script acting as the daemon.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nvmed")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type fixture struct {
	cfg   config.Config
	dirs  config.RuntimeDirs
	table *stubTable
	rec   *fakeRecorder
	sup   *daemon.Supervisor
}

// newFixture builds a supervisor over a fake sysfs tree where the
// device is already passthrough-bound, so Bind is a no-op.
func newFixture(t *testing.T, addr vfioctl.Address, daemonPath string, timeoutSeconds int) *fixture {
	t.Helper()

	tree := sysfstest.New(t)
	tree.AddDriver("vfio-pci")
	tree.AddDevice(addr, nvmeClass, "0x8086", "0x0953")
	tree.Bind(addr, "vfio-pci")

	cfg := config.Default()
	cfg.Poll.IntervalMS = 1
	cfg.Daemon.Paths = []string{daemonPath}
	cfg.Daemon.StartupTimeoutSeconds = timeoutSeconds

	dirs, err := config.NewRuntimeDirs(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	require.NoError(t, dirs.EnsureDirectories())

	table := &stubTable{}
	term := proc.NewTerminator(table, nil, cfg.Poll.TerminateSpec(), t.TempDir(), cfg.Daemon.ArtifactPrefix, discard)
	mgr := manager.New(cfg, sysfs.New(tree.Root), term, &noopReloader{}, discard)
	rec := &fakeRecorder{}

	return &fixture{
		cfg:   cfg,
		dirs:  dirs,
		table: table,
		rec:   rec,
		sup:   daemon.New(cfg, dirs, mgr, term, rec, discard),
	}
}

type noopReloader struct{}

func (noopReloader) Load(ctx context.Context, module string) error   { return nil }
func (noopReloader) Remove(ctx context.Context, module string) error { return nil }

func TestEnsureConfirmsReadiness(t *testing.T) {
	addr := vfioctl.MustParseAddress("0000:01:00.0")
	script := writeScript(t, `echo "$1 loaded"`)
	fx := newFixture(t, addr, script, 5)

	require.NoError(t, fx.sup.Ensure(context.Background(), addr))

	pid, ok := fx.rec.records[addr.String()]
	assert.True(t, ok, "daemon PID should be recorded")
	assert.Positive(t, pid)

	// The capture is transient; nothing should remain.
	entries, err := os.ReadDir(fx.dirs.Capture())
	require.NoError(t, err)
	assert.Empty(t, entries, "startup capture should be deleted")
}

func TestEnsureSurfacesStartupFailure(t *testing.T) {
	addr := vfioctl.MustParseAddress("0000:01:00.0")
	script := writeScript(t, `echo "$1 failed: no memory"`)
	fx := newFixture(t, addr, script, 5)

	err := fx.sup.Ensure(context.Background(), addr)

	var startupErr vfioctl.DaemonStartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Contains(t, startupErr.Output, "failed: no memory", "captured output surfaces verbatim")

	entries, rerr := os.ReadDir(fx.dirs.Capture())
	require.NoError(t, rerr)
	assert.Empty(t, entries, "capture deleted on failure too")
}

func TestEnsureStartupTimeout(t *testing.T) {
	addr := vfioctl.MustParseAddress("0000:01:00.0")
	script := writeScript(t, `sleep 5`)
	fx := newFixture(t, addr, script, 1)

	err := fx.sup.Ensure(context.Background(), addr)

	var timeoutErr vfioctl.DaemonStartupTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, addr, timeoutErr.Address)
}

func TestEnsureExecutableNotFound(t *testing.T) {
	addr := vfioctl.MustParseAddress("0000:01:00.0")
	missing := filepath.Join(t.TempDir(), "no-such-daemon")
	fx := newFixture(t, addr, missing, 5)

	err := fx.sup.Ensure(context.Background(), addr)

	var notFound vfioctl.DaemonExecutableNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, notFound.Searched, missing)
}

func TestEnsureIsIdempotentForLiveDaemon(t *testing.T) {
	addr := vfioctl.MustParseAddress("0000:01:00.0")

	// The script would leave a sentinel if it ever ran.
	sentinel := filepath.Join(t.TempDir(), "spawned")
	script := writeScript(t, `touch `+sentinel+`; echo "$1 loaded"`)
	fx := newFixture(t, addr, script, 5)

	fx.table.entries = []proc.Entry{{PID: 4242, Cmdline: "nvmed 01:00.0"}}

	require.NoError(t, fx.sup.Ensure(context.Background(), addr))

	_, err := os.Stat(sentinel)
	assert.True(t, os.IsNotExist(err), "a live daemon must not be re-spawned")
	assert.Empty(t, fx.rec.records, "nothing recorded for an untouched daemon")
}

func TestReady(t *testing.T) {
	addr := vfioctl.MustParseAddress("0000:01:00.0")

	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"plain marker", "01:00.0 loaded", true},
		{"marker after noise", "nvmed starting\n01:00.0 controller loaded\n", true},
		{"failure output", "01:00.0 failed: no memory", false},
		{"loaded for other device", "02:00.0 loaded", false},
		{"empty", "", false},
		{"address without token", "01:00.0 initialising", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, daemon.Ready([]byte(tt.output), addr))
		})
	}
}
