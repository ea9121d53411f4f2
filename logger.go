package aggregate

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with fields specific to the aggregation service.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is nil,
// uses a default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	})
	return &Logger{Logger: slog.New(handler)}
}

// WithThread adds a thread field to the logger.
func (l *Logger) WithThread(id uint64) *Logger {
	return &Logger{Logger: l.Logger.With("thread", id)}
}

// WithKeyLen adds a key-length field to the logger.
func (l *Logger) WithKeyLen(n int) *Logger {
	return &Logger{Logger: l.Logger.With("keylen", n)}
}

// WithDropped adds a dropped-sample-count field to the logger.
func (l *Logger) WithDropped(n uint64) *Logger {
	return &Logger{Logger: l.Logger.With("dropped", n)}
}

// LogFlush logs the outcome of one FlushAll pass.
func (l *Logger) LogFlush(ctx context.Context, databases, emitted, reclaimed int, dropped uint64) {
	l.InfoContext(ctx, "flush completed",
		"databases", databases,
		"emitted", emitted,
		"reclaimed", reclaimed,
		"dropped", dropped,
	)
}

// LogRetire logs a per-thread database being reclaimed.
func (l *Logger) LogRetire(ctx context.Context, threadID uint64) {
	l.DebugContext(ctx, "thread database reclaimed", "thread", threadID)
}

// LogDrop logs a sample drop with its cause.
func (l *Logger) LogDrop(ctx context.Context, threadID uint64, reason string) {
	l.WarnContext(ctx, "sample dropped", "thread", threadID, "reason", reason)
}

// LogHostRejection logs a failure to synthesize a context-tree node path.
func (l *Logger) LogHostRejection(ctx context.Context, threadID uint64) {
	l.DebugContext(ctx, "host rejected node synthesis, key omits node portion", "thread", threadID)
}

// LogConfigError logs a configuration-level failure (an ErrConfig).
func (l *Logger) LogConfigError(ctx context.Context, err error) {
	l.WarnContext(ctx, "configuration error", "error", err)
}

// LogDecodeError logs an unexpected failure decoding a self-produced key
// during flush.
func (l *Logger) LogDecodeError(ctx context.Context, threadID uint64, err error) {
	l.ErrorContext(ctx, "key decode failed, aborting this database's flush",
		"thread", threadID,
		"error", err,
	)
}
