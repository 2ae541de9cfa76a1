// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package logging

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// Slog returns an *slog.Logger writing through the global zerolog logger.
// Needed for libraries that only accept the standard structured logger.
func Slog() *slog.Logger {
	return slog.New(&slogBridge{})
}

// slogBridge adapts slog records onto zerolog events. Groups flatten into
// dot-separated key prefixes.
type slogBridge struct {
	attrs  []slog.Attr
	prefix string
}

func (h *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return slogToZerolog(level) >= zerolog.GlobalLevel()
}

func (h *slogBridge) Handle(_ context.Context, record slog.Record) error {
	logger := Logger()
	event := logger.WithLevel(slogToZerolog(record.Level))
	for _, attr := range h.attrs {
		h.appendAttr(event, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.appendAttr(event, attr)
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *slogBridge) appendAttr(event *zerolog.Event, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	event.Interface(h.prefix+attr.Key, attr.Value.Resolve().Any())
}

func (h *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := &slogBridge{prefix: h.prefix}
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return clone
}

func (h *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogBridge{
		attrs:  append([]slog.Attr(nil), h.attrs...),
		prefix: h.prefix + name + ".",
	}
}

func slogToZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
