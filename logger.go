package localagg

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogFormat selects the slog handler of NewLogger.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Logger is a slog.Logger with helpers that keep the field names of
// training events consistent across the trainer, the CLI and the examples.
type Logger struct {
	*slog.Logger
}

// NewLogger writes records of at least level to w. Unknown formats fall
// back to text.
func NewLogger(w io.Writer, format LogFormat, level slog.Leveler) *Logger {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if format == LogFormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// NewJSONLogger logs JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(os.Stderr, LogFormatJSON, level)
}

// NewTextLogger logs key=value lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(os.Stderr, LogFormatText, level)
}

// NoopLogger drops everything.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// FromSlog wraps l; a nil l gives a NoopLogger.
func FromSlog(l *slog.Logger) *Logger {
	if l == nil {
		return NoopLogger()
	}
	return &Logger{Logger: l}
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRun tags every record with the run label.
func (l *Logger) WithRun(label string) *Logger {
	return l.With(slog.String("run", label))
}

// LogEpoch reports the summary of a finished epoch.
func (l *Logger) LogEpoch(ctx context.Context, epoch int, meanLoss, lr float64, emptyPositives int) {
	l.LogAttrs(ctx, slog.LevelInfo, "epoch completed",
		slog.Int("epoch", epoch),
		slog.Float64("loss", meanLoss),
		slog.Float64("lr", lr),
		slog.Int("empty_positives", emptyPositives),
	)
}

// LogBatch reports per-batch progress.
func (l *Logger) LogBatch(ctx context.Context, epoch, batch, batches int, loss float64) {
	l.LogAttrs(ctx, slog.LevelInfo, "batch completed",
		slog.Int("epoch", epoch),
		slog.Int("batch", batch),
		slog.Int("batches", batches),
		slog.Float64("loss", loss),
	)
}

// LogClusterRefresh reports a refresh of the cluster assignments at step.
// Successful refreshes are logged at debug level.
func (l *Logger) LogClusterRefresh(ctx context.Context, step int, async bool, err error) {
	attrs := []slog.Attr{slog.Int("step", step), slog.Bool("async", async)}
	if err != nil {
		l.LogAttrs(ctx, slog.LevelError, "cluster refresh failed", append(attrs, slog.Any("error", err))...)
		return
	}
	l.LogAttrs(ctx, slog.LevelDebug, "cluster refresh started", attrs...)
}

// LogCheckpoint reports a checkpoint operation such as "save" or "load".
func (l *Logger) LogCheckpoint(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.LogAttrs(ctx, slog.LevelError, "checkpoint failed",
			slog.String("op", op), slog.String("name", name), slog.Any("error", err))
		return
	}
	l.LogAttrs(ctx, slog.LevelInfo, "checkpoint "+op, slog.String("name", name))
}
