// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/huythanh0x/udemycoupons/internal/database"
	"github.com/huythanh0x/udemycoupons/internal/eventprocessor"
	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/metrics"
	"github.com/huythanh0x/udemycoupons/internal/models"
	"github.com/huythanh0x/udemycoupons/internal/validation"
)

// Upserter applies validated records to the canonical store, appends
// lifecycle history, and publishes change events. Store writes get a
// bounded retry; event publishing is best-effort because the cache TTL
// caps the damage of a missed invalidation.
type Upserter struct {
	db            *database.DB
	publisher     *eventprocessor.Publisher
	retryAttempts int
}

// NewUpserter builds an upserter. publisher may be nil in tests.
func NewUpserter(db *database.DB, publisher *eventprocessor.Publisher, retryAttempts int) *Upserter {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Upserter{db: db, publisher: publisher, retryAttempts: retryAttempts}
}

// Apply routes one validated record into the store and bumps the cycle
// counters for whatever happened.
func (u *Upserter) Apply(ctx context.Context, v validation.Validated, cycle *models.CrawlCycle) error {
	switch v.Outcome {
	case validation.OutcomeActive:
		return u.applyActive(ctx, v.Course, cycle)
	case validation.OutcomeExpired:
		return u.applyExpired(ctx, v.Course, cycle)
	default:
		cycle.Rejected.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "rejected").Inc()
		logging.Debug().
			Str("source", cycle.Source).
			Int64("course_id", v.Course.CourseID).
			Str("reason", v.Reason).
			Msg("Record rejected by validation")
		return nil
	}
}

func (u *Upserter) applyActive(ctx context.Context, course models.CouponCourse, cycle *models.CrawlCycle) error {
	now := time.Now().UTC()

	var result database.UpsertResult
	err := u.withRetry(ctx, func() error {
		var err error
		result, err = u.db.UpsertCoupon(ctx, course, now)
		return err
	})
	if err != nil {
		cycle.Failed.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "failed").Inc()
		return &StoreWriteError{CourseID: course.CourseID, Err: err}
	}

	switch result.Outcome {
	case database.UpsertInserted:
		cycle.Inserted.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "inserted").Inc()
		u.recordHistory(ctx, course, models.HistoryStatusNew, now)
		u.publish(eventprocessor.EventCourseCreated, course.CourseID, nil)

	case database.UpsertUpdated:
		cycle.Updated.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "updated").Inc()
		if result.Previous != nil && !result.Previous.IsActive {
			u.recordHistory(ctx, course, models.HistoryStatusReactivated, now)
			u.publish(eventprocessor.EventCourseReactivated, course.CourseID, result.ChangedFields)
		} else {
			u.publish(eventprocessor.EventCourseUpdated, course.CourseID, result.ChangedFields)
		}

	case database.UpsertUnchanged:
		cycle.Unchanged.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "unchanged").Inc()
	}

	return nil
}

func (u *Upserter) applyExpired(ctx context.Context, course models.CouponCourse, cycle *models.CrawlCycle) error {
	now := time.Now().UTC()

	existing, err := u.db.GetCoupon(ctx, course.CourseID)
	if errors.Is(err, database.ErrNotFound) {
		// Never stored, nothing to deactivate.
		cycle.Unchanged.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "unchanged").Inc()
		return nil
	}
	if err != nil {
		cycle.Failed.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "failed").Inc()
		return &StoreWriteError{CourseID: course.CourseID, Err: err}
	}
	if !existing.IsActive {
		cycle.Unchanged.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "unchanged").Inc()
		return nil
	}

	if err := u.withRetry(ctx, func() error {
		return u.db.DeactivateCoupon(ctx, course.CourseID, now)
	}); err != nil {
		cycle.Failed.Add(1)
		metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "failed").Inc()
		return &StoreWriteError{CourseID: course.CourseID, Err: err}
	}

	cycle.Deactivated.Add(1)
	metrics.CrawlRecordsTotal.WithLabelValues(cycle.Source, "deactivated").Inc()
	u.recordHistory(ctx, course, models.HistoryStatusExpired, now)
	u.publish(eventprocessor.EventCourseExpired, course.CourseID, nil)
	return nil
}

// SweepExpired deactivates every stored row whose coupon lapsed since it
// was last seen, publishing an expiry event per row. Runs once per cycle
// so rows from vanished listings still age out.
func (u *Upserter) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	ids, err := u.db.DeactivateExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		u.publish(eventprocessor.EventCourseExpired, id, nil)
	}
	return len(ids), nil
}

func (u *Upserter) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(u.retryAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, database.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// recordHistory appends an audit row; failures are logged, not propagated,
// because the canonical write already succeeded.
func (u *Upserter) recordHistory(ctx context.Context, course models.CouponCourse, status string, now time.Time) {
	h := models.CouponHistory{
		CourseID:   course.CourseID,
		Title:      course.Title,
		CouponURL:  course.CouponURL,
		Status:     status,
		RecordedAt: now,
	}
	if err := u.db.InsertCouponHistory(ctx, h); err != nil {
		logging.Warn().Int64("course_id", course.CourseID).Str("status", status).Err(err).
			Msg("Failed to record coupon history")
	}
}

func (u *Upserter) publish(eventType string, courseID int64, changedFields []string) {
	if u.publisher == nil {
		return
	}
	event := eventprocessor.NewCourseChangeEvent(eventType, courseID, changedFields)
	if err := u.publisher.PublishChange(event); err != nil {
		logging.Warn().Int64("course_id", courseID).Str("type", eventType).Err(err).
			Msg("Failed to publish change event")
	}
}
