// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import "context"

// Source names. They key cycle reports, metrics and per-source locks.
const (
	SourceEnext        = "enext"
	SourceRealDiscount = "realdiscount"
)

// Adapter turns one upstream coupon aggregator into a list of Udemy coupon
// URLs (course URL carrying a couponCode query parameter). Adapters only
// discover URLs; the extractor owns turning a URL into a raw record.
type Adapter interface {
	Name() string
	FetchCouponURLs(ctx context.Context) ([]string, error)
}

// dedupeURLs removes duplicates while preserving first-seen order. The same
// coupon routinely shows up on several listing pages of one aggregator.
func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
