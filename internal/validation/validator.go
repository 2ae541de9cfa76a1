// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package validation classifies and normalizes raw coupon records.
//
// ValidateCoupon is a pure function: it never touches the store, holds no
// state beyond the shared go-playground/validator singleton (which is
// thread-safe), and is therefore safe to run in parallel across the records
// of a page.
package validation

import (
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/huythanh0x/udemycoupons/internal/models"
)

// Outcome tags a validated record.
type Outcome string

const (
	// OutcomeActive means the coupon is usable and belongs in active listings.
	OutcomeActive Outcome = "ACTIVE"

	// OutcomeExpired means the record identifies a real course whose coupon
	// is past expiration or depleted; the canonical row should be
	// deactivated, not deleted.
	OutcomeExpired Outcome = "EXPIRED"

	// OutcomeRejected means the record is malformed or no longer free and
	// must never reach the store.
	OutcomeRejected Outcome = "REJECTED"
)

// Validated is the result of validating one raw record.
type Validated struct {
	Outcome Outcome
	Reason  string // populated for REJECTED
	Course  models.CouponCourse
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// instance returns the shared validator. go-playground/validator caches
// struct metadata, so a single instance is both faster and thread-safe.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateCoupon classifies a raw record and produces the canonical course
// representation for ACTIVE and EXPIRED outcomes.
//
// Rules:
//   - missing course id, title, coupon code or a malformed URL => REJECTED
//   - a non-zero price means the coupon no longer makes the course free => REJECTED
//   - expiration in the past (relative to now) or a depleted use counter => EXPIRED
//   - rating clamped to [0, 5]; negative counts clamped to 0
//   - a zero expiration is replaced by the far-future sentinel
//   - " Level" suffix stripped from single-level names ("Expert Level" => "Expert")
func ValidateCoupon(raw models.RawCoupon, now time.Time) Validated {
	if err := instance().Struct(raw); err != nil {
		return Validated{Outcome: OutcomeRejected, Reason: rejectionReason(err)}
	}
	if raw.Price != 0 {
		return Validated{Outcome: OutcomeRejected, Reason: "coupon price is not zero"}
	}

	course := normalize(raw, now)

	if !course.ExpiresAt.After(now) || raw.UsesRemaining == 0 {
		return Validated{Outcome: OutcomeExpired, Course: course}
	}
	return Validated{Outcome: OutcomeActive, Course: course}
}

// normalize maps a raw record onto the canonical shape, clamping
// out-of-range numeric fields instead of rejecting them.
func normalize(raw models.RawCoupon, now time.Time) models.CouponCourse {
	expires := raw.ExpiresAt
	if expires.IsZero() {
		expires = models.FarFutureExpiry
	}

	validatedAt := raw.FetchedAt
	if validatedAt.IsZero() {
		validatedAt = now
	}

	return models.CouponCourse{
		CourseID:        raw.CourseID,
		Title:           strings.TrimSpace(raw.Title),
		Headline:        strings.TrimSpace(raw.Headline),
		Description:     strings.TrimSpace(raw.Description),
		Category:        raw.Category,
		SubCategory:     raw.SubCategory,
		Level:           normalizeLevel(raw.Level),
		Language:        raw.Language,
		Author:          raw.Author,
		ContentLength:   clampInt(raw.ContentLength),
		PreviewImage:    raw.PreviewImage,
		PreviewVideo:    raw.PreviewVideo,
		Rating:          clampRating(raw.Rating),
		Reviews:         clampInt(raw.Reviews),
		Students:        clampInt(raw.Students),
		CouponCode:      raw.CouponCode,
		CouponURL:       raw.CouponURL,
		ExpiresAt:       expires,
		UsesRemaining:   raw.UsesRemaining,
		IsActive:        true,
		LastValidatedAt: validatedAt,
	}
}

// normalizeLevel strips the redundant " Level" suffix from single-level
// names but keeps multi-level names ("All Levels") intact.
func normalizeLevel(level string) string {
	if strings.Contains(level, "Levels") {
		return level
	}
	return strings.TrimSuffix(level, " Level")
}

func clampRating(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 5:
		return 5
	default:
		return r
	}
}

func clampInt(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// rejectionReason flattens validator errors into a single reason string.
func rejectionReason(err error) string {
	var verrs validator.ValidationErrors
	if ok := asValidationErrors(err, &verrs); !ok {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(fields, "; ")
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
