// Package wenetlog configures the process-wide structured logger,
// adapted from the teacher's cmd/lk-go/main.go setupLogger().
package wenetlog

import (
	"log/slog"
	"os"
)

// New builds a slog.Logger from the given level and format ("console" for
// text output, anything else defaults to JSON), matching the teacher's own
// env-var-driven setupLogger() but parameterized instead of reading
// environment variables directly, so pkg/config's CLI-flag-or-YAML values
// drive it uniformly.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if format == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
