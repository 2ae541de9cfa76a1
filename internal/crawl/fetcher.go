// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/metrics"
)

// maxBodySize caps response bodies; course landing pages run a few hundred
// KB, anything past this is not a page we want.
const maxBodySize = 4 << 20

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Fetcher is a polite HTTP client shared by all upstream calls of one
// source: paced by a token bucket plus jitter, bounded by per-request
// timeouts, and retried with exponential backoff on transient failures.
type Fetcher struct {
	source  string
	client  *http.Client
	limiter *rate.Limiter
	jitter  time.Duration

	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewFetcher builds a fetcher for one source from the crawl config.
func NewFetcher(source string, cfg *config.CrawlConfig) *Fetcher {
	interval := cfg.MinRequestGap
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Fetcher{
		source:         source,
		client:         &http.Client{Timeout: cfg.FetchTimeout},
		limiter:        rate.NewLimiter(rate.Every(interval), 1),
		jitter:         cfg.RequestJitter,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
	}
}

// Get fetches a URL and returns its body. Throttling (429) and server-side
// errors (5xx) are retried with backoff; other non-2xx statuses fail
// immediately as permanent.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	operation := func() error {
		if err := f.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		data, err := f.fetchOnce(ctx, url)
		if err == nil {
			body = data
			return nil
		}

		switch e := err.(type) {
		case *RateLimitedError:
			metrics.FetchErrorsTotal.WithLabelValues(f.source, "throttled").Inc()
			// Honor Retry-After before handing control back to the
			// backoff policy; the next retry then starts from a calm
			// upstream.
			if e.RetryAfter > 0 {
				select {
				case <-time.After(e.RetryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return err
		case *FetchError:
			metrics.FetchErrorsTotal.WithLabelValues(f.source, "network").Inc()
			if e.StatusCode >= 400 && e.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(f.newBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// GetDocument fetches a URL and parses it as HTML.
func (f *Fetcher) GetDocument(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return docFromBytes(f.source, url, body)
}

func docFromBytes(source, url string, body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		metrics.FetchErrorsTotal.WithLabelValues(source, "parse").Inc()
		return nil, &ParseError{Source: source, URL: url, Detail: "invalid HTML", Err: err}
	}
	return doc, nil
}

func (f *Fetcher) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.retryBaseDelay
	bo.MaxInterval = f.retryMaxDelay
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall time
	return backoff.WithMaxRetries(bo, uint64(f.retryAttempts))
}

// wait blocks for the rate limiter plus a random jitter slice.
func (f *Fetcher) wait(ctx context.Context) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	if f.jitter <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(rand.Int63n(int64(f.jitter)))):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: f.source, URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		logging.Warn().
			Str("source", f.source).
			Str("url", url).
			Dur("retry_after", retryAfter).
			Msg("Upstream throttled request")
		return nil, &RateLimitedError{Source: f.source, URL: url, RetryAfter: retryAfter}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Source: f.source, URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{Source: f.source, URL: url, Err: err}
	}
	return body, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
