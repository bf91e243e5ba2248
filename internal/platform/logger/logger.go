package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns a structured JSON logger using slog.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// NewDebug returns a JSON logger whose debug output is gated by enabled.
// With enabled=false debug lines are dropped and Info and above still pass.
func NewDebug(enabled bool) *slog.Logger {
	return NewDebugTo(os.Stdout, enabled)
}

// NewDebugTo is NewDebug writing to w.
func NewDebugTo(w io.Writer, enabled bool) *slog.Logger {
	level := slog.LevelInfo
	if enabled {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything. Used as the nil-logger
// fallback by components constructed without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
