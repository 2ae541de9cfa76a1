// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/logging"
)

// EnextAdapter scrapes jobs.e-next.in, an HTML coupon aggregator. Listing
// pages are numbered /course/udemy/1, /course/udemy/2, ... and each
// portfolio item links to a detail page that carries the actual Udemy
// coupon link.
type EnextAdapter struct {
	baseURL    string
	maxCoupons int
	fetcher    *BreakerFetcher
}

// NewEnextAdapter builds the adapter.
func NewEnextAdapter(cfg *config.EnextConfig, crawlCfg *config.CrawlConfig) *EnextAdapter {
	return &EnextAdapter{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxCoupons: cfg.MaxCoupons,
		fetcher:    NewBreakerFetcher(SourceEnext, NewFetcher(SourceEnext, crawlCfg)),
	}
}

func (a *EnextAdapter) Name() string { return SourceEnext }

// FetchCouponURLs walks listing pages until the coupon budget is met or a
// page comes back empty, then resolves each detail page to its Udemy link.
// A detail page that fails only costs that one coupon.
func (a *EnextAdapter) FetchCouponURLs(ctx context.Context) ([]string, error) {
	detailURLs, err := a.collectDetailURLs(ctx)
	if err != nil {
		return nil, err
	}

	var couponURLs []string
	for _, detailURL := range detailURLs {
		if err := ctx.Err(); err != nil {
			return couponURLs, err
		}
		couponURL, err := a.resolveCouponURL(ctx, detailURL)
		if err != nil {
			logging.Warn().
				Str("source", SourceEnext).
				Str("url", detailURL).
				Err(err).
				Msg("Skipping detail page")
			continue
		}
		couponURLs = append(couponURLs, couponURL)
	}

	return dedupeURLs(couponURLs), nil
}

func (a *EnextAdapter) collectDetailURLs(ctx context.Context) ([]string, error) {
	var urls []string
	for page := 1; len(urls) < a.maxCoupons; page++ {
		if err := ctx.Err(); err != nil {
			return urls, err
		}

		pageURL := fmt.Sprintf("%s/course/udemy/%d", a.baseURL, page)
		doc, err := a.fetcher.GetDocument(ctx, pageURL)
		if err != nil {
			// A first-page failure means the source is unreachable;
			// deeper pages failing just ends pagination early.
			if page == 1 {
				return nil, err
			}
			logging.Warn().Str("source", SourceEnext).Int("page", page).Err(err).
				Msg("Listing page failed, stopping pagination")
			break
		}

		pageURLs := extractEnextDetailURLs(doc, a.baseURL)
		if len(pageURLs) == 0 {
			break
		}
		urls = append(urls, pageURLs...)
	}

	urls = dedupeURLs(urls)
	if len(urls) > a.maxCoupons {
		urls = urls[:a.maxCoupons]
	}
	return urls, nil
}

// extractEnextDetailURLs pulls detail-page links out of a listing page.
func extractEnextDetailURLs(doc *goquery.Document, baseURL string) []string {
	var urls []string
	doc.Find("div.portfolio-item a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = baseURL + href
		}
		urls = append(urls, href)
	})
	return urls
}

// resolveCouponURL finds the Udemy coupon link on a detail page. The
// primary button is preferred; any udemy.com link carrying a couponCode is
// the fallback for older page layouts.
func (a *EnextAdapter) resolveCouponURL(ctx context.Context, detailURL string) (string, error) {
	doc, err := a.fetcher.GetDocument(ctx, detailURL)
	if err != nil {
		return "", err
	}

	if href, ok := doc.Find("a.btn.btn-primary[href*='udemy.com']").First().Attr("href"); ok && href != "" {
		return href, nil
	}
	if href, ok := doc.Find("a[href*='udemy.com'][href*='couponCode=']").First().Attr("href"); ok && href != "" {
		return href, nil
	}

	return "", &ParseError{Source: SourceEnext, URL: detailURL, Detail: "no Udemy coupon link on detail page"}
}
