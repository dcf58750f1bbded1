package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// panickyHandler fails every way a sink can.
type panickyHandler struct {
	panicEnabled bool
}

func (h panickyHandler) Enabled(context.Context, slog.Level) bool {
	if h.panicEnabled {
		panic("enabled exploded")
	}
	return true
}

func (panickyHandler) Handle(context.Context, slog.Record) error { panic("sink exploded") }
func (h panickyHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h panickyHandler) WithGroup(string) slog.Handler { return h }

type erroringHandler struct{ panickyHandler }

func (erroringHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestSafeHandler_RecoversPanics(t *testing.T) {
	logger := slog.New(NewSafeHandler(panickyHandler{}))
	assert.NotPanics(t, func() { logger.Error("boom") })

	logger = slog.New(NewSafeHandler(panickyHandler{panicEnabled: true}))
	assert.NotPanics(t, func() { logger.Info("boom") })
}

// deriveFailsHandler panics when attributes or groups are added.
type deriveFailsHandler struct{ slog.Handler }

func (deriveFailsHandler) WithAttrs([]slog.Attr) slog.Handler { panic("attrs exploded") }
func (deriveFailsHandler) WithGroup(string) slog.Handler      { panic("group exploded") }

func TestSafeHandler_RecoversDerivePanics(t *testing.T) {
	var buf bytes.Buffer
	h := NewSafeHandler(deriveFailsHandler{slog.NewTextHandler(&buf, nil)})

	var logger *slog.Logger
	assert.NotPanics(t, func() {
		logger = slog.New(h).With("component", "engine").WithGroup("req")
	})
	logger.Info("still logging")
	assert.Contains(t, buf.String(), "still logging")
	assert.NotContains(t, buf.String(), "component")
}

func TestSafeHandler_DropsErrors(t *testing.T) {
	h := NewSafeHandler(erroringHandler{})
	assert.NoError(t, h.Handle(context.Background(), slog.Record{}))
}

func TestSafeHandler_NilInner(t *testing.T) {
	logger := slog.New(NewSafeHandler(nil))
	assert.NotPanics(t, func() { logger.Info("nowhere") })
}

func TestSafe(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithRunID(context.Background(), "run-9")
	Safe(base).InfoContext(ctx, "hello")

	output := buf.String()
	assert.Contains(t, output, "hello")
	assert.Equal(t, 1, strings.Count(output, "run_id=run-9"))
}

func TestSafe_Nil(t *testing.T) {
	assert.NotPanics(t, func() { Safe(nil).Info("x") })
	assert.NotPanics(t, func() { Discard().Info("x") })
}
