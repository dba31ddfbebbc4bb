// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpubridge

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpubridge/gfx/soft"
	"github.com/gogpu/gpubridge/internal/gpu"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for gpubridge, its internal backend and the
// soft device. By default, gpubridge produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by gpubridge:
//   - [slog.LevelDebug]: per-frame diagnostics (dispatches, shared targets)
//   - [slog.LevelInfo]: lifecycle events (attach, detach, resize applied)
//   - [slog.LevelWarn]: frame failures and release errors
//
// Devices passed through WithDevice that have a SetLogger method receive the
// logger when the presenter is created.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	gpu.SetLogger(l)
	soft.SetLogger(l)
}

// Logger returns the current logger used by gpubridge.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to v if it implements loggerSetter.
func propagateLogger(v any, l *slog.Logger) {
	if ls, ok := v.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
