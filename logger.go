package warmgo

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/warmgo/snapshot"
)

// Logger wraps slog.Logger with warmgo-specific helpers.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// LogSave logs the outcome of a shutdown-time save pass.
func (l *Logger) LogSave(ctx context.Context, stats snapshot.SaveStats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "buffer save failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "buffer save completed",
			"pages", stats.Pages,
			"files", stats.Files,
		)
	}
}

// LogDiscovery logs the result of startup save-file discovery.
func (l *Logger) LogDiscovery(ctx context.Context, pending int) {
	if pending > 0 {
		l.InfoContext(ctx, "found pending save-files",
			"pending", pending,
		)
	} else {
		l.DebugContext(ctx, "no pending save-files")
	}
}

// LogArchivePush logs the outcome of an archive push.
func (l *Logger) LogArchivePush(ctx context.Context, generation string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive push failed",
			"generation", generation,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "archive push completed",
			"generation", generation,
		)
	}
}

// LogArchivePull logs the outcome of an archive pull.
func (l *Logger) LogArchivePull(ctx context.Context, generation string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive pull failed",
			"generation", generation,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "archive pull completed",
			"generation", generation,
		)
	}
}
