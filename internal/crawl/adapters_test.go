// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huythanh0x/udemycoupons/internal/config"
)

func TestEnextAdapterFetchCouponURLs(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/course/udemy/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
			<div class="portfolio-item"><a href="/coupon/go-course">Go</a></div>
			<div class="portfolio-item"><a href="%s/coupon/py-course">Python</a></div>
			<div class="other"><a href="/not-a-coupon">nope</a></div>
		</body></html>`, server.URL)
	})
	mux.HandleFunc("/course/udemy/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	})
	mux.HandleFunc("/coupon/go-course", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<a class="btn btn-primary" href="https://www.udemy.com/course/go/?couponCode=GOFREE">Enroll</a>
		</body></html>`))
	})
	mux.HandleFunc("/coupon/py-course", func(w http.ResponseWriter, r *http.Request) {
		// No primary button; the generic coupon-link fallback applies.
		_, _ = w.Write([]byte(`<html><body>
			<a href="https://www.udemy.com/course/py/?couponCode=PYFREE">take it</a>
		</body></html>`))
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	adapter := NewEnextAdapter(
		&config.EnextConfig{Enabled: true, BaseURL: server.URL, MaxCoupons: 10},
		fastCrawlConfig(),
	)

	urls, err := adapter.FetchCouponURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.udemy.com/course/go/?couponCode=GOFREE",
		"https://www.udemy.com/course/py/?couponCode=PYFREE",
	}, urls)
}

func TestEnextAdapterSkipsBrokenDetailPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/course/udemy/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<div class="portfolio-item"><a href="/coupon/ok">ok</a></div>
			<div class="portfolio-item"><a href="/coupon/broken">broken</a></div>
		</body></html>`))
	})
	mux.HandleFunc("/course/udemy/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body></body></html>`))
	})
	mux.HandleFunc("/coupon/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
			<a class="btn btn-primary" href="https://www.udemy.com/course/ok/?couponCode=OK">go</a>
		</body></html>`))
	})
	mux.HandleFunc("/coupon/broken", func(w http.ResponseWriter, r *http.Request) {
		// A detail page with no Udemy link at all.
		_, _ = w.Write([]byte(`<html><body><p>coupon expired, sorry</p></body></html>`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := NewEnextAdapter(
		&config.EnextConfig{Enabled: true, BaseURL: server.URL, MaxCoupons: 10},
		fastCrawlConfig(),
	)

	urls, err := adapter.FetchCouponURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.udemy.com/course/ok/?couponCode=OK"}, urls)
}

func TestEnextAdapterUnreachableSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastCrawlConfig()
	cfg.RetryAttempts = 0
	adapter := NewEnextAdapter(
		&config.EnextConfig{Enabled: true, BaseURL: server.URL, MaxCoupons: 10},
		cfg,
	)

	_, err := adapter.FetchCouponURLs(context.Background())
	assert.Error(t, err, "first-page failure means the source is down")
}

func TestRealDiscountAdapterFetchCouponURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "sale_start", r.URL.Query().Get("sortBy"))
		_, _ = w.Write([]byte(`{"items": [
			{"url": "https://www.udemy.com/course/a/?couponCode=AAA"},
			{"url": "https://shop.example.com/deal/123"},
			{"url": "https://www.udemy.com/course/b/?couponCode=BBB"},
			{"url": "https://www.udemy.com/course/a/?couponCode=AAA"},
			{"url": "https://www.udemy.com/course/free-forever/"}
		]}`))
	}))
	defer server.Close()

	adapter := NewRealDiscountAdapter(
		&config.RealDiscConfig{Enabled: true, APIURL: server.URL, MaxCoupons: 100},
		fastCrawlConfig(),
	)

	urls, err := adapter.FetchCouponURLs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.udemy.com/course/a/?couponCode=AAA",
		"https://www.udemy.com/course/b/?couponCode=BBB",
	}, urls, "non-Udemy, coupon-less and duplicate URLs are dropped")
}

func TestRealDiscountAdapterMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [`))
	}))
	defer server.Close()

	adapter := NewRealDiscountAdapter(
		&config.RealDiscConfig{Enabled: true, APIURL: server.URL, MaxCoupons: 100},
		fastCrawlConfig(),
	)

	_, err := adapter.FetchCouponURLs(context.Background())
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestDedupeURLs(t *testing.T) {
	got := dedupeURLs([]string{"a", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
