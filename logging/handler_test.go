package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-vfioctl/logging"
)

func TestFilteringHandler_Enabled(t *testing.T) {
	spec := &logging.Spec{
		BaseLevel: logging.LevelWarn,
		Components: map[string]logging.Level{
			"manager": logging.LevelDebug,
			"proc":    logging.LevelTrace,
		},
	}

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	handler := logging.NewFilteringHandler(inner, spec)

	ctx := context.Background()

	// No component: base level applies.
	assert.False(t, handler.Enabled(ctx, slog.LevelInfo))
	assert.True(t, handler.Enabled(ctx, slog.LevelWarn))

	// Component overrides.
	manager := handler.WithAttrs([]slog.Attr{slog.String("component", "manager")})
	assert.True(t, manager.Enabled(ctx, slog.LevelDebug))
	assert.False(t, manager.Enabled(ctx, logging.LevelTrace.ToSlog()))

	procH := handler.WithAttrs([]slog.Attr{slog.String("component", "proc")})
	assert.True(t, procH.Enabled(ctx, logging.LevelTrace.ToSlog()))
}

func TestFilteringHandler_SuppressesBelowLevel(t *testing.T) {
	spec, err := logging.ParseSpec("warn,manager=debug")
	require.NoError(t, err)

	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: logging.LevelTrace.ToSlog()})
	logger := slog.New(logging.NewFilteringHandler(inner, &spec))

	logger.Info("base suppressed")
	logger.With("component", "manager").Debug("manager visible")
	logger.With("component", "sysfs").Debug("sysfs suppressed")

	out := buf.String()
	assert.NotContains(t, out, "base suppressed")
	assert.Contains(t, out, "manager visible")
	assert.NotContains(t, out, "sysfs suppressed")
}

func TestNewUsesSpecPrecedence(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{
		CLISpec:    "error",
		EnvSpec:    "debug",
		ConfigSpec: "trace",
		Output:     &buf,
	})
	require.NoError(t, err)

	logger.Warn("suppressed by cli spec")
	logger.Error("visible")

	lines := strings.TrimSpace(buf.String())
	assert.NotContains(t, lines, "suppressed by cli spec")
	assert.Contains(t, lines, "visible")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]logging.Format{
		"":     logging.FormatText,
		"text": logging.FormatText,
		"JSON": logging.FormatJSON,
	} {
		got, err := logging.ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := logging.ParseFormat("xml")
	require.Error(t, err)
}
