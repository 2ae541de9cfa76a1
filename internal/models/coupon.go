// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package models defines the canonical data structures shared across the
// crawl pipeline, the canonical store and the query surface.
package models

import "time"

// FarFutureExpiry is the sentinel expiration used when Udemy's pricing API
// omits a campaign end time. Coupons carrying it are treated as non-expiring
// until the source says otherwise.
var FarFutureExpiry = time.Date(2030, time.May, 19, 17, 24, 0, 0, time.UTC)

// CouponCourse is the canonical coupon-bearing course row, keyed by the
// immutable Udemy course identifier. The canonical store owns this state;
// the cache only ever holds disposable projections of it.
type CouponCourse struct {
	// Identity
	CourseID int64 `json:"course_id"`

	// Descriptive fields - mutable but change rarely
	Title         string `json:"title"`
	Headline      string `json:"headline,omitempty"`
	Description   string `json:"description,omitempty"`
	Category      string `json:"category,omitempty"`
	SubCategory   string `json:"sub_category,omitempty"`
	Level         string `json:"level,omitempty"`
	Language      string `json:"language,omitempty"`
	Author        string `json:"author,omitempty"`
	ContentLength int    `json:"content_length,omitempty"` // minutes
	PreviewImage  string `json:"preview_image,omitempty"`
	PreviewVideo  string `json:"preview_video,omitempty"`

	// Popularity fields - refreshed every crawl
	Rating   float64 `json:"rating"`
	Reviews  int     `json:"reviews"`
	Students int     `json:"students"`

	// Coupon fields - highly volatile, the reason for re-crawling
	CouponCode    string    `json:"coupon_code"`
	CouponURL     string    `json:"coupon_url"`
	ExpiresAt     time.Time `json:"expires_at"`
	UsesRemaining int       `json:"uses_remaining"`

	// Status fields
	IsActive        bool      `json:"is_active"`
	IsNew           bool      `json:"is_new"`
	LastValidatedAt time.Time `json:"last_validated_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Expired reports whether the coupon is unusable at the given instant,
// either past its expiration or with a depleted use counter.
func (c *CouponCourse) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now) || c.UsesRemaining == 0
}

// History statuses recorded on coupon lifecycle transitions.
const (
	HistoryStatusNew         = "new"
	HistoryStatusReactivated = "reactivated"
	HistoryStatusExpired     = "expired"
)

// CouponHistory is an append-only audit row recorded when a coupon is first
// seen, comes back from the dead, or expires. Never read on the hot path.
type CouponHistory struct {
	CourseID   int64     `json:"course_id"`
	Title      string    `json:"title"`
	CouponURL  string    `json:"coupon_url"`
	Status     string    `json:"status"`
	RecordedAt time.Time `json:"recorded_at"`
}
