// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huythanh0x/udemycoupons/internal/models"
)

func TestUpsertCouponInsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	res, err := db.UpsertCoupon(ctx, testCourse(101), baseTime)
	require.NoError(t, err)
	assert.Equal(t, UpsertInserted, res.Outcome)
	assert.Nil(t, res.Previous)

	got, err := db.GetCoupon(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "Course Title", got.Title)
	assert.True(t, got.IsActive)
	assert.Equal(t, baseTime, got.CreatedAt)
	assert.Equal(t, baseTime, got.UpdatedAt)
}

func TestUpsertCouponIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	course := testCourse(101)
	_, err := db.UpsertCoupon(ctx, course, baseTime)
	require.NoError(t, err)

	// Same record again: no content change, only last_validated_at moves.
	later := baseTime.Add(time.Hour)
	course.LastValidatedAt = later
	res, err := db.UpsertCoupon(ctx, course, later)
	require.NoError(t, err)
	assert.Equal(t, UpsertUnchanged, res.Outcome)
	assert.Empty(t, res.ChangedFields)

	got, err := db.GetCoupon(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, later, got.LastValidatedAt)
	assert.Equal(t, baseTime, got.UpdatedAt, "unchanged upsert must not bump updated_at")
}

func TestUpsertCouponUpdateReportsChangedFields(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertCoupon(ctx, testCourse(101), baseTime)
	require.NoError(t, err)

	later := baseTime.Add(4 * time.Hour)
	next := testCourse(101)
	next.CouponCode = "NEWCODE"
	next.CouponURL = "https://www.udemy.com/course/x/?couponCode=NEWCODE"
	next.Students = 41000
	next.LastValidatedAt = later

	res, err := db.UpsertCoupon(ctx, next, later)
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res.Outcome)
	assert.ElementsMatch(t, []string{"coupon_code", "coupon_url", "students"}, res.ChangedFields)
	require.NotNil(t, res.Previous)
	assert.Equal(t, "FREE2026", res.Previous.CouponCode)

	got, err := db.GetCoupon(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "NEWCODE", got.CouponCode)
	assert.Equal(t, later, got.UpdatedAt)
	assert.Equal(t, baseTime, got.CreatedAt, "created_at is immutable")
}

func TestUpsertCouponReactivation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertCoupon(ctx, testCourse(101), baseTime)
	require.NoError(t, err)
	require.NoError(t, db.DeactivateCoupon(ctx, 101, baseTime.Add(time.Hour)))

	// A fresh valid coupon for the same course flips it back to active.
	next := testCourse(101)
	res, err := db.UpsertCoupon(ctx, next, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res.Outcome)
	assert.Contains(t, res.ChangedFields, "is_active")
	require.NotNil(t, res.Previous)
	assert.False(t, res.Previous.IsActive)

	got, err := db.GetCoupon(ctx, 101)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestUpsertCouponConcurrentSameCourse(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Two cycles can hand the upserter the same course at the same time.
	// The read and write share one transaction, so the writers serialize:
	// exactly one insert, the rest land as update or unchanged, and no
	// writer ever trips the primary key.
	const writers = 8
	var wg sync.WaitGroup
	var inserted atomic.Int64
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Overlapping transactions can conflict; retry, never give up
			// on the first collision.
			for attempt := 0; attempt < 20; attempt++ {
				res, err := db.UpsertCoupon(ctx, testCourse(101), baseTime)
				if err == nil {
					if res.Outcome == UpsertInserted {
						inserted.Add(1)
					}
					return
				}
				if attempt == 19 {
					errCh <- err
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), inserted.Load(), "exactly one writer may take the insert path")

	count, err := db.ActiveCouponCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "racing upserts of one course must collapse to one row")

	got, err := db.GetCoupon(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, "Course Title", got.Title)
}

func TestDeactivateCoupon(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertCoupon(ctx, testCourse(101), baseTime)
	require.NoError(t, err)

	require.NoError(t, db.DeactivateCoupon(ctx, 101, baseTime.Add(time.Hour)))

	got, err := db.GetCoupon(ctx, 101)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	count, err := db.ActiveCouponCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, db.DeactivateCoupon(ctx, 999, baseTime), ErrNotFound)
}

func TestDeactivateExpired(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fresh := testCourse(1)
	expired := testCourse(2)
	expired.ExpiresAt = baseTime.Add(-time.Hour)
	depleted := testCourse(3)
	depleted.UsesRemaining = 0

	for _, c := range []models.CouponCourse{fresh, expired, depleted} {
		_, err := db.UpsertCoupon(ctx, c, baseTime)
		require.NoError(t, err)
	}

	ids, err := db.DeactivateExpired(ctx, baseTime)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3}, ids)

	count, err := db.ActiveCouponCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Second sweep finds nothing.
	ids, err = db.DeactivateExpired(ctx, baseTime)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCouponHistoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	entries := []models.CouponHistory{
		{CourseID: 101, Title: "T", CouponURL: "https://u", Status: models.HistoryStatusNew, RecordedAt: baseTime},
		{CourseID: 101, Title: "T", CouponURL: "https://u", Status: models.HistoryStatusExpired, RecordedAt: baseTime.Add(time.Hour)},
		{CourseID: 101, Title: "T", CouponURL: "https://u2", Status: models.HistoryStatusReactivated, RecordedAt: baseTime.Add(2 * time.Hour)},
	}
	for _, h := range entries {
		require.NoError(t, db.InsertCouponHistory(ctx, h))
	}

	got, err := db.CouponHistoryFor(ctx, 101, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, models.HistoryStatusReactivated, got[0].Status, "newest first")
	assert.Equal(t, models.HistoryStatusNew, got[2].Status)
}
