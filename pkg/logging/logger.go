package logging

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger builds the process-wide logger. Format is "text" or "json";
// anything else falls back to text. The returned logger is also installed
// as the slog default.
func InitLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		opts.AddSource = true
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// NewComponentLogger adds the component name to all log entries for
// traceability.
func NewComponentLogger(base *slog.Logger, component string) *slog.Logger {
	return base.With(slog.String("component", component))
}

// WithCall attaches call identity fields shared by every per-call log entry.
func WithCall(base *slog.Logger, streamID, callID, traceID string) *slog.Logger {
	return base.With(
		slog.String("stream_id", streamID),
		slog.String("call_id", callID),
		slog.String("trace_id", traceID),
	)
}
