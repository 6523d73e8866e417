// Package logging sets up the structured loggers shared by wdmd and
// fence-reset.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Setup builds a slog.Logger that routes debug/info to stdout and
// warn/error to stderr, in the given format ("json" or "text").
func Setup(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var stdoutHandler, stderrHandler slog.Handler
	if format == "text" {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(&splitHandler{
		level:         logLevel,
		stdoutHandler: stdoutHandler,
		stderrHandler: stderrHandler,
	})
}

// splitHandler routes records to stdout or stderr based on level.
type splitHandler struct {
	level         slog.Level
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

func (h *splitHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *splitHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{level: h.level, stdoutHandler: h.stdoutHandler.WithAttrs(attrs), stderrHandler: h.stderrHandler.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{level: h.level, stdoutHandler: h.stdoutHandler.WithGroup(name), stderrHandler: h.stderrHandler.WithGroup(name)}
}
