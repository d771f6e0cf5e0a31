package minirag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with consistent field names for index and query
// operations.
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
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithRequestID tags every record with a request id.
func (l *Logger) WithRequestID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("request_id", id),
	}
}

// LogBuild logs the outcome of an index build.
func (l *Logger) LogBuild(ctx context.Context, report *BuildReport, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed", "error", err)
		return
	}
	l.InfoContext(ctx, "build completed",
		"build_id", report.BuildID,
		"documents", report.Documents,
		"chunks", report.Chunks,
		"dimension", report.Dimension,
		"resumed", report.Resumed,
		"max_level", report.Stats.MaxLevel,
		"elapsed", report.Elapsed,
	)
}

// LogLoad logs loading an index pair from dir.
func (l *Logger) LogLoad(ctx context.Context, dir string, ix *Index, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index load failed",
			"dir", dir,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "index loaded",
		"dir", dir,
		"chunks", ix.Len(),
		"dimension", ix.Dimension(),
		"build_id", ix.BuildID(),
	)
}

// LogSearch logs a retrieval.
func (l *Logger) LogSearch(ctx context.Context, k, resultsFound, skipped int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"k", k,
			"error", err,
		)
		return
	}
	if skipped > 0 {
		l.WarnContext(ctx, "search skipped unresolved ids",
			"k", k,
			"results", resultsFound,
			"skipped", skipped,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"k", k,
		"results", resultsFound,
	)
}

// LogAnswer logs a call to the generative model.
func (l *Logger) LogAnswer(ctx context.Context, model string, noAnswer bool, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "answer failed",
			"model", model,
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	if noAnswer {
		l.WarnContext(ctx, "model response had no extractable answer",
			"model", model,
			"elapsed", elapsed,
		)
		return
	}
	l.DebugContext(ctx, "answer completed",
		"model", model,
		"elapsed", elapsed,
	)
}
