// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type taskKey struct{}

// WithTask returns a context whose log records carry the task id. Request
// entry points tag the context once; every line logged under it is then
// attributable without threading the id through call sites.
func WithTask(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskKey{}, taskID)
}

// ConfigureSlog installs the process logger. Records logged with a context
// pick up the task id and the live trace identifiers, keeping the text log
// joinable against the JSONL span stream.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}
	logger := slog.New(&auditHandler{next: base})
	slog.SetDefault(logger)
	return logger
}

// auditHandler decorates records with the correlation attributes the audit
// trail is keyed on: task_id, trace_id, span_id.
type auditHandler struct {
	next slog.Handler
}

func (h *auditHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *auditHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if taskID, ok := ctx.Value(taskKey{}).(string); ok && taskID != "" && !hasAttr(record, "task_id") {
			record.AddAttrs(slog.String("task_id", taskID))
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			if !hasAttr(record, "trace_id") {
				record.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
			}
			if !hasAttr(record, "span_id") {
				record.AddAttrs(slog.String("span_id", sc.SpanID().String()))
			}
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *auditHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &auditHandler{next: h.next.WithAttrs(attrs)}
}

func (h *auditHandler) WithGroup(name string) slog.Handler {
	return &auditHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func hasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
