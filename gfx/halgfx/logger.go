// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package halgfx

import (
	"context"
	"log/slog"
)

// nopHandler discards every record. Devices log through it until SetLogger
// is called.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
