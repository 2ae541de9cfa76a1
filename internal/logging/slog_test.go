// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestSlogBridgeWritesThroughGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Slog().Info("supervisor event", "service", "crawl-scheduler")

	out := buf.String()
	if !strings.Contains(out, `"message":"supervisor event"`) {
		t.Errorf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, `"service":"crawl-scheduler"`) {
		t.Errorf("expected attr as structured field, got %q", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected info level, got %q", out)
	}
}

func TestSlogBridgeLevelsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	logger := Slog().WithGroup("restart").With("count", 3)
	logger.Warn("service backoff")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got %q", out)
	}
	if !strings.Contains(out, `"restart.count":3`) {
		t.Errorf("expected group-prefixed attr, got %q", out)
	}
}

func TestSlogBridgeRespectsLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "error", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Slog().Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected info record filtered at error level, got %q", buf.String())
	}
}
