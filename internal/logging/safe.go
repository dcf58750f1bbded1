package logging

import (
	"context"
	"io"
	"log/slog"
)

// SafeHandler wraps a sink so that logging can never fail or crash its
// caller: panics raised by the inner handler are recovered and its errors
// are dropped.
type SafeHandler struct {
	inner slog.Handler
}

// NewSafeHandler wraps inner. A nil inner discards every record.
func NewSafeHandler(inner slog.Handler) *SafeHandler {
	if inner == nil {
		inner = slog.NewTextHandler(io.Discard, nil)
	}
	return &SafeHandler{inner: inner}
}

func (h *SafeHandler) Enabled(ctx context.Context, level slog.Level) (enabled bool) {
	defer func() {
		if recover() != nil {
			enabled = false
		}
	}()
	return h.inner.Enabled(ctx, level)
}

func (h *SafeHandler) Handle(ctx context.Context, r slog.Record) error {
	defer func() { _ = recover() }()
	_ = h.inner.Handle(ctx, r)
	return nil
}

// WithAttrs and WithGroup keep h unchanged when the inner handler panics, so
// the attributes or group are lost but the logger stays usable.
func (h *SafeHandler) WithAttrs(attrs []slog.Attr) (derived slog.Handler) {
	defer func() {
		if recover() != nil {
			derived = h
		}
	}()
	return &SafeHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *SafeHandler) WithGroup(name string) (derived slog.Handler) {
	defer func() {
		if recover() != nil {
			derived = h
		}
	}()
	return &SafeHandler{inner: h.inner.WithGroup(name)}
}

// Safe returns a logger whose records carry correlation IDs and whose sink
// failures are contained. A nil logger yields a discarding logger.
func Safe(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(NewSafeHandler(nil))
	}
	inner := logger.Handler()
	if ch, ok := inner.(*CorrelationHandler); ok {
		inner = ch.inner
	}
	return slog.New(NewCorrelationHandler(NewSafeHandler(inner)))
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(NewSafeHandler(nil))
}
