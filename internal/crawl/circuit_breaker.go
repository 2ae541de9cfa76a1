// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/metrics"
)

// BreakerFetcher wraps a Fetcher with a circuit breaker so a source that is
// down or consistently erroring stops receiving traffic for a cool-off
// window instead of burning the whole cycle on timeouts.
//
// The breaker uses real time for its interval and timeout; tests exercise
// the wrapped fetcher directly.
type BreakerFetcher struct {
	fetcher *Fetcher
	cb      *gobreaker.CircuitBreaker[[]byte]
	source  string
}

// NewBreakerFetcher wraps a fetcher. The circuit opens after a 60% failure
// rate over at least 10 requests and probes recovery after 2 minutes.
func NewBreakerFetcher(source string, fetcher *Fetcher) *BreakerFetcher {
	metrics.CircuitBreakerState.WithLabelValues(source).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        source,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().
				Str("source", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerFetcher{fetcher: fetcher, cb: cb, source: source}
}

// Get fetches through the breaker.
func (b *BreakerFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.fetcher.Get(ctx, url)
	})
}

// GetDocument fetches and parses HTML through the breaker. Parse failures
// count against the breaker too: a source serving garbage is as unusable
// as one serving errors.
func (b *BreakerFetcher) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := b.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return docFromBytes(b.source, url, body)
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
