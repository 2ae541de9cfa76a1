// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/logging"
)

// RealDiscountAdapter reads cdn.real.discount's JSON API. Unlike Enext this
// source hands out Udemy URLs directly; one request sorted by sale start
// covers the freshest coupons up to the configured budget.
type RealDiscountAdapter struct {
	apiURL     string
	maxCoupons int
	fetcher    *BreakerFetcher
}

// NewRealDiscountAdapter builds the adapter.
func NewRealDiscountAdapter(cfg *config.RealDiscConfig, crawlCfg *config.CrawlConfig) *RealDiscountAdapter {
	return &RealDiscountAdapter{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		maxCoupons: cfg.MaxCoupons,
		fetcher:    NewBreakerFetcher(SourceRealDiscount, NewFetcher(SourceRealDiscount, crawlCfg)),
	}
}

func (a *RealDiscountAdapter) Name() string { return SourceRealDiscount }

// realDiscountResponse is the slice of the API response we consume.
type realDiscountResponse struct {
	Items []struct {
		URL string `json:"url"`
	} `json:"items"`
}

// FetchCouponURLs pulls one API page sized to the coupon budget.
func (a *RealDiscountAdapter) FetchCouponURLs(ctx context.Context) ([]string, error) {
	pageURL := fmt.Sprintf("%s?page=1&limit=%d&sortBy=sale_start", a.apiURL, a.maxCoupons)

	body, err := a.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	var resp realDiscountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ParseError{Source: SourceRealDiscount, URL: pageURL, Detail: "invalid JSON", Err: err}
	}

	var urls []string
	for _, item := range resp.Items {
		// Some listings point at the aggregator's own redirect or at
		// non-Udemy shops; only direct coupon links are usable.
		if strings.Contains(item.URL, "udemy.com") && strings.Contains(item.URL, "couponCode=") {
			urls = append(urls, item.URL)
		}
	}

	logging.Debug().
		Str("source", SourceRealDiscount).
		Int("listed", len(resp.Items)).
		Int("usable", len(urls)).
		Msg("Fetched coupon listing")

	return dedupeURLs(urls), nil
}
