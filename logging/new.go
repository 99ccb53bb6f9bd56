package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// EnvVar is the environment variable holding the log spec.
const EnvVar = "VFIOCTL_LOG"

// Format is the log output format.
type Format string

const (
	// FormatText is human-readable text output.
	FormatText Format = "text"
	// FormatJSON is JSON output.
	FormatJSON Format = "json"
)

// ParseFormat parses "text" or "json"; empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %q", s)
	}
}

// Options configures the logger factory. Spec precedence follows
// Unix convention: CLI flag over environment over config file.
type Options struct {
	EnvSpec    string
	CLISpec    string
	ConfigSpec string
	Format     Format
	// Output defaults to os.Stderr; the daemons this tool spawns
	// own stdout for their readiness markers.
	Output io.Writer
}

// New creates a slog.Logger with component-level filtering.
func New(opts Options) (*slog.Logger, error) {
	specStr := ""
	switch {
	case opts.CLISpec != "":
		specStr = opts.CLISpec
	case opts.EnvSpec != "":
		specStr = opts.EnvSpec
	case opts.ConfigSpec != "":
		specStr = opts.ConfigSpec
	}

	spec, err := ParseSpec(specStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log spec: %w", err)
	}

	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	// The inner handler passes everything; the filtering handler
	// decides per component.
	handlerOpts := &slog.HandlerOptions{Level: LevelTrace.ToSlog()}

	var inner slog.Handler
	switch opts.Format {
	case FormatJSON:
		inner = slog.NewJSONHandler(output, handlerOpts)
	default:
		inner = slog.NewTextHandler(output, handlerOpts)
	}

	return slog.New(NewFilteringHandler(inner, &spec)), nil
}

// Default creates a logger with default settings (info, text, stderr).
// It is the fallback for constructors handed a nil logger.
func Default() *slog.Logger {
	logger, _ := New(Options{})
	return logger
}
