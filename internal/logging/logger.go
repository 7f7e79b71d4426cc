// Package logging builds the application's slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Path, when set, receives a copy of every record.
	Path string
}

// New constructs a slog logger and returns a closer for any opened log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	return newLogger(opts, os.Stderr)
}

func newLogger(opts Options, console *os.File) (*slog.Logger, io.Closer, error) {
	var out io.Writer = console
	closer := io.Closer(nopCloser{})

	if path := strings.TrimSpace(opts.Path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(console, file)
		closer = file
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch resolveFormat(opts.Format, console) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	case "text":
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// resolveFormat picks text for terminals and JSON otherwise when format is auto.
func resolveFormat(format string, console *os.File) string {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "auto":
		if console != nil && (isatty.IsTerminal(console.Fd()) || isatty.IsCygwinTerminal(console.Fd())) {
			return "text"
		}
		return "json"
	case "console":
		return "text"
	default:
		return f
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
