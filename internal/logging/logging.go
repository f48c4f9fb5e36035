// Package logging configures slog for devrun's own diagnostics. Output of the
// supervised dev servers never goes through it.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseLevel converts a log level string to slog.Level.
// Valid values: "debug", "info", "warn", "error" (case-insensitive).
// Returns slog.LevelWarn for unrecognized values.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Setup builds a JSON logger and installs it as the slog default. With a
// path, records are appended to that file; otherwise they go to fallback,
// which may be io.Discard for full-screen interfaces. The returned cleanup
// closes the log file.
func Setup(path string, level slog.Level, fallback io.Writer) (*slog.Logger, func(), error) {
	w := fallback
	cleanup := func() {}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		w = f
		cleanup = func() { f.Close() }
	}
	if w == nil {
		w = io.Discard
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, cleanup, nil
}
