// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"errors"
	"fmt"
	"time"
)

// FetchError wraps a failed HTTP fetch with its source and URL. A non-zero
// StatusCode means the server answered; zero means transport failure.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: fetch %s: status %d", e.Source, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: fetch %s: %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimitedError signals an HTTP 429. RetryAfter is zero when the server
// sent no Retry-After header.
type RateLimitedError struct {
	Source     string
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited on %s (retry after %s)", e.Source, e.URL, e.RetryAfter)
}

// ParseError marks a payload that was fetched fine but could not be
// interpreted. Parse errors fail the record, never the cycle.
type ParseError struct {
	Source string
	URL    string
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: parse %s: %s: %v", e.Source, e.URL, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: parse %s: %s", e.Source, e.URL, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StoreWriteError wraps a canonical-store write failure after retries.
type StoreWriteError struct {
	CourseID int64
	Err      error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write for course %d failed: %v", e.CourseID, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// ErrCycleInFlight is returned by Trigger when the source already has a
// running cycle.
var ErrCycleInFlight = errors.New("crawl cycle already in flight")

// ErrUnknownSource is returned by Trigger for a source name that is not
// registered.
var ErrUnknownSource = errors.New("unknown crawl source")
