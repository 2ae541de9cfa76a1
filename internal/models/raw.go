// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package models

import "time"

// UsesUnlimited marks a coupon whose remaining-use counter is not reported
// by Udemy's pricing API. Distinct from 0, which means depleted.
const UsesUnlimited = -1

// RawCoupon is one record as assembled by a source adapter and the Udemy
// detail extractor, before validation. String fields are carried as-is;
// the validator owns normalization and clamping.
type RawCoupon struct {
	CourseID      int64     `validate:"required,gt=0"`
	Title         string    `validate:"required"`
	Headline      string    `validate:"-"`
	Description   string    `validate:"-"`
	Category      string    `validate:"-"`
	SubCategory   string    `validate:"-"`
	Level         string    `validate:"-"`
	Language      string    `validate:"-"`
	Author        string    `validate:"-"`
	ContentLength int       `validate:"-"`
	PreviewImage  string    `validate:"-"`
	PreviewVideo  string    `validate:"-"`
	Rating        float64   `validate:"-"`
	Reviews       int       `validate:"-"`
	Students      int       `validate:"-"`
	CouponCode    string    `validate:"required"`
	CouponURL     string    `validate:"required,url"`
	Price         float64   `validate:"-"` // non-zero means the coupon no longer makes the course free
	ExpiresAt     time.Time `validate:"-"` // zero value means the pricing API omitted the campaign end
	UsesRemaining int       `validate:"-"` // UsesUnlimited when not reported
	FetchedAt     time.Time `validate:"-"`
}
