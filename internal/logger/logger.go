// Package logger sets up slog for the binaries and carries request-scoped
// attributes through a context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey struct{}

// ContextHandler is a [slog.Handler] that adds any attributes stored with [Ctx]
// to each record it handles.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(base slog.Handler) ContextHandler {
	return ContextHandler{Handler: base}
}

func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		record.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, record)
}

// WithAttrs keeps the context handling on loggers derived with [slog.Logger.With].
func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Ctx returns a context carrying attrs on top of any already attached.
func Ctx(ctx context.Context, attrs ...slog.Attr) context.Context {
	existing, _ := ctx.Value(ctxKey{}).([]slog.Attr)

	merged := make([]slog.Attr, 0, len(existing)+len(attrs))
	merged = append(merged, existing...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// New builds a logger writing to w. Format is "json" or "text", level one of
// slog's level names; unknown values fall back to text and info.
func New(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var base slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		base = slog.NewJSONHandler(w, opts)
	}

	return slog.New(NewContextHandler(base))
}
