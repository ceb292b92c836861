package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options carries the logging flags shared by the interface process and the
// helper processes it spawns.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// NewLogger creates a configured slog.Logger.
//
// level: slog level (DEBUG, INFO, WARN, ERROR)
// format: "text" (human-readable) or "json" (structured)
//
// Output goes to stderr; stdout belongs to the prompt, history and report.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// New builds a stderr logger from Options.
func New(o Options) *slog.Logger {
	return NewLogger(ParseLevel(o.Level), o.Format)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Flags renders Options as command-line flags for a child process.
func (o Options) Flags() []string {
	var args []string
	if o.Level != "" {
		args = append(args, "--log-level", o.Level)
	}
	if o.Format != "" {
		args = append(args, "--log-format", o.Format)
	}
	return args
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
