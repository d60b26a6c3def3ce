// Package log owns the process-wide structured logger. Output is JSON on
// stderr: stdout is reserved for command output, in particular the exec-host
// batch envelope.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger once. Later calls are no-ops, so the
// first caller (the CLI entrypoint) decides the level.
func Setup(level string) {
	once.Do(func() {
		handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// parseLevel maps a config string to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
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

// Get returns the configured logger, initializing an info-level one if Setup
// has not run yet.
func Get() *slog.Logger {
	if logger == nil {
		Setup("info")
	}
	return logger
}

// WithComponent returns a logger scoped to one subsystem.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithTarget returns a logger scoped to one target id.
func WithTarget(id string) *slog.Logger {
	return Get().With(slog.String("target", id))
}

// WithBatch returns a logger scoped to one batch id.
func WithBatch(id string) *slog.Logger {
	return Get().With(slog.String("batch_id", id))
}
