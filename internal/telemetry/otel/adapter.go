package otel

import (
	"context"
	"fmt"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const loggerScope = "auth-platform/backend"

// NewLogHandler returns a slog.Handler that emits each record as an OTel log record through provider.
// If provider is nil, the handler discards everything.
func NewLogHandler(provider *sdklog.LoggerProvider) slog.Handler {
	if provider == nil {
		return &logHandler{}
	}
	return NewLogHandlerWithLogger(provider.Logger(loggerScope))
}

// NewLogHandlerWithLogger returns a handler emitting to logger directly.
func NewLogHandlerWithLogger(logger otellog.Logger) slog.Handler {
	return &logHandler{logger: logger}
}

type logHandler struct {
	logger otellog.Logger
	attrs  []otellog.KeyValue
	group  string
}

func (h *logHandler) Enabled(context.Context, slog.Level) bool {
	return h.logger != nil
}

func (h *logHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(r.Time)
	rec.SetObservedTimestamp(r.Time)
	rec.SetBody(otellog.StringValue(r.Message))
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.AddAttributes(h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(h.keyValue(a))
		return true
	})
	h.logger.Emit(ctx, rec)
	return nil
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &logHandler{logger: h.logger, group: h.group, attrs: append([]otellog.KeyValue(nil), h.attrs...)}
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.keyValue(a))
	}
	return next
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &logHandler{logger: h.logger, attrs: h.attrs, group: group}
}

func (h *logHandler) keyValue(a slog.Attr) otellog.KeyValue {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return otellog.String(key, v.String())
	case slog.KindInt64:
		return otellog.Int64(key, v.Int64())
	case slog.KindBool:
		return otellog.Bool(key, v.Bool())
	case slog.KindFloat64:
		return otellog.Float64(key, v.Float64())
	default:
		return otellog.String(key, fmt.Sprint(v.Any()))
	}
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

// Tee returns a handler that writes every record to each of handlers.
func Tee(handlers ...slog.Handler) slog.Handler {
	return teeHandler(handlers)
}

type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
