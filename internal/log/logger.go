package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger writing to stdout.
// Unknown levels fall back to INFO, unknown formats to JSON.
func Setup(level, format string) {
	once.Do(func() {
		install(os.Stdout, level, format)
	})
}

// SetupWriter is like Setup but writes to w. The CLI uses it to keep
// stdout clean for command output.
func SetupWriter(w io.Writer, level, format string) {
	once.Do(func() {
		install(w, level, format)
	})
}

func install(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// get returns the configured logger, or a default one if Setup hasn't been called.
func get() *slog.Logger {
	if logger == nil {
		Setup("INFO", "json")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return get().With(slog.String("component", name))
}

// WithInvocation returns a logger with the invocation_id field set.
func WithInvocation(id string) *slog.Logger {
	return get().With(slog.String("invocation_id", id))
}
