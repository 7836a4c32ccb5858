package audit

import (
	"context"
	"log/slog"
	"sort"
)

// LogRecorder writes each event as a structured log record.
type LogRecorder struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogRecorder logs events at Info on logger, or slog.Default() when nil.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{
		logger: logger.With(slog.String("component", "audit")),
		level:  slog.LevelInfo,
	}
}

// Record logs e.
func (l *LogRecorder) Record(e Event) {
	attrs := []slog.Attr{
		slog.String("event_id", e.ID),
		slog.String("file_id", e.FileID),
		slog.String("filename", e.Filename),
		slog.Time("timestamp", e.Timestamp),
	}
	if len(e.Flags) > 0 {
		attrs = append(attrs, slog.Any("flags", e.Flags))
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		details := make([]any, 0, len(keys))
		for _, k := range keys {
			details = append(details, slog.String(k, e.Details[k]))
		}
		attrs = append(attrs, slog.Group("details", details...))
	}
	l.logger.LogAttrs(context.Background(), l.level, string(e.Action), attrs...)
}
