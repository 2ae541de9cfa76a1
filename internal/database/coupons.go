// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huythanh0x/udemycoupons/internal/metrics"
	"github.com/huythanh0x/udemycoupons/internal/models"
)

// UpsertOutcome classifies what an upsert did to the canonical row.
type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// UpsertResult reports the outcome of an upsert, the fields that changed
// (for updated outcomes) and the previous row state (nil for inserts).
type UpsertResult struct {
	Outcome       UpsertOutcome
	ChangedFields []string
	Previous      *models.CouponCourse
}

const couponColumns = `course_id, title, headline, description, category, sub_category,
	level, language, author, content_length, preview_image, preview_video,
	rating, reviews, students,
	coupon_code, coupon_url, expires_at, uses_remaining,
	is_active, last_validated_at, created_at, updated_at`

// dbtx abstracts *sql.DB and *sql.Tx for statements shared between the
// transactional upsert path and plain reads.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UpsertCoupon writes one validated course into the store. Identity is the
// course id: a missing row is inserted, a present row is field-diffed and
// only rewritten when something material changed. A row whose diff is empty
// still gets its last_validated_at bumped so staleness stays observable.
// The read and the write run in one transaction, so two cycles racing on
// the same course serialize instead of both taking the insert path.
func (db *DB) UpsertCoupon(ctx context.Context, course models.CouponCourse, now time.Time) (UpsertResult, error) {
	timer := metrics.DBQueryDuration.WithLabelValues("upsert_coupon")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("upsert_coupon").Inc()
		return UpsertResult{}, fmt.Errorf("failed to begin upsert for course %d: %w", course.CourseID, err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := upsertCoupon(ctx, tx, course, now)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("upsert_coupon").Inc()
		return UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		metrics.DBQueryErrors.WithLabelValues("upsert_coupon").Inc()
		return UpsertResult{}, fmt.Errorf("failed to commit upsert for course %d: %w", course.CourseID, err)
	}
	return result, nil
}

func upsertCoupon(ctx context.Context, q dbtx, course models.CouponCourse, now time.Time) (UpsertResult, error) {
	existing, err := getCoupon(ctx, q, course.CourseID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return UpsertResult{}, fmt.Errorf("failed to load existing course %d: %w", course.CourseID, err)
	}

	if existing == nil {
		if err := insertCoupon(ctx, q, course, now); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Outcome: UpsertInserted}, nil
	}

	changed := diffCoupon(existing, &course)
	if len(changed) == 0 {
		if err := touchCoupon(ctx, q, course.CourseID, course.LastValidatedAt); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Outcome: UpsertUnchanged, Previous: existing}, nil
	}

	if err := updateCoupon(ctx, q, course, now); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Outcome: UpsertUpdated, ChangedFields: changed, Previous: existing}, nil
}

func insertCoupon(ctx context.Context, q dbtx, c models.CouponCourse, now time.Time) error {
	query := `INSERT INTO coupon_courses (` + couponColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		c.CourseID, c.Title, c.Headline, c.Description, c.Category, c.SubCategory,
		c.Level, c.Language, c.Author, c.ContentLength, c.PreviewImage, c.PreviewVideo,
		c.Rating, c.Reviews, c.Students,
		c.CouponCode, c.CouponURL, c.ExpiresAt, c.UsesRemaining,
		c.IsActive, c.LastValidatedAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert course %d: %w", c.CourseID, err)
	}
	return nil
}

func updateCoupon(ctx context.Context, q dbtx, c models.CouponCourse, now time.Time) error {
	query := `UPDATE coupon_courses SET
		title = ?, headline = ?, description = ?, category = ?, sub_category = ?,
		level = ?, language = ?, author = ?, content_length = ?, preview_image = ?, preview_video = ?,
		rating = ?, reviews = ?, students = ?,
		coupon_code = ?, coupon_url = ?, expires_at = ?, uses_remaining = ?,
		is_active = ?, last_validated_at = ?, updated_at = ?
		WHERE course_id = ?`

	_, err := q.ExecContext(ctx, query,
		c.Title, c.Headline, c.Description, c.Category, c.SubCategory,
		c.Level, c.Language, c.Author, c.ContentLength, c.PreviewImage, c.PreviewVideo,
		c.Rating, c.Reviews, c.Students,
		c.CouponCode, c.CouponURL, c.ExpiresAt, c.UsesRemaining,
		c.IsActive, c.LastValidatedAt, now,
		c.CourseID,
	)
	if err != nil {
		return fmt.Errorf("failed to update course %d: %w", c.CourseID, err)
	}
	return nil
}

// touchCoupon bumps last_validated_at without counting as a content change.
func touchCoupon(ctx context.Context, q dbtx, courseID int64, validatedAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`UPDATE coupon_courses SET last_validated_at = ? WHERE course_id = ?`,
		validatedAt, courseID)
	if err != nil {
		return fmt.Errorf("failed to touch course %d: %w", courseID, err)
	}
	return nil
}

// GetCoupon returns one row by course id, or ErrNotFound.
func (db *DB) GetCoupon(ctx context.Context, courseID int64) (*models.CouponCourse, error) {
	timer := metrics.DBQueryDuration.WithLabelValues("get_coupon")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	c, err := getCoupon(ctx, db.conn, courseID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.DBQueryErrors.WithLabelValues("get_coupon").Inc()
	}
	return c, err
}

func getCoupon(ctx context.Context, q dbtx, courseID int64) (*models.CouponCourse, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupon_courses WHERE course_id = ?`, courseID)

	c, err := scanCoupon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course %d: %w", courseID, err)
	}
	return c, nil
}

// DeactivateCoupon marks a row inactive. Returns ErrNotFound when the id is
// unknown and a nil error when the row was already inactive.
func (db *DB) DeactivateCoupon(ctx context.Context, courseID int64, now time.Time) error {
	timer := metrics.DBQueryDuration.WithLabelValues("deactivate_coupon")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE coupon_courses SET is_active = false, updated_at = ? WHERE course_id = ?`,
		now, courseID)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("deactivate_coupon").Inc()
		return fmt.Errorf("failed to deactivate course %d: %w", courseID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateExpired flips every active row whose expiration has passed and
// returns the affected course ids so change events can be published.
func (db *DB) DeactivateExpired(ctx context.Context, now time.Time) ([]int64, error) {
	timer := metrics.DBQueryDuration.WithLabelValues("deactivate_expired")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT course_id FROM coupon_courses
		 WHERE is_active AND (expires_at <= ? OR uses_remaining = 0)`, now)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("deactivate_expired").Inc()
		return nil, fmt.Errorf("failed to select expired courses: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			closeQuietly(rows)
			return nil, fmt.Errorf("failed to scan expired course id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return nil, fmt.Errorf("failed to iterate expired courses: %w", err)
	}
	closeQuietly(rows)

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE coupon_courses SET is_active = false, updated_at = ?
		 WHERE is_active AND (expires_at <= ? OR uses_remaining = 0)`, now, now); err != nil {
		metrics.DBQueryErrors.WithLabelValues("deactivate_expired").Inc()
		return nil, fmt.Errorf("failed to deactivate expired courses: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit expiry sweep: %w", err)
	}
	return ids, nil
}

// ActiveCouponCount returns the number of active rows.
func (db *DB) ActiveCouponCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_courses WHERE is_active`).Scan(&count)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("active_count").Inc()
		return 0, fmt.Errorf("failed to count active courses: %w", err)
	}
	return count, nil
}

// InsertCouponHistory appends one lifecycle transition to the audit trail.
func (db *DB) InsertCouponHistory(ctx context.Context, h models.CouponHistory) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO coupon_history (course_id, title, coupon_url, status, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		h.CourseID, h.Title, h.CouponURL, h.Status, h.RecordedAt)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("insert_history").Inc()
		return fmt.Errorf("failed to insert history for course %d: %w", h.CourseID, err)
	}
	return nil
}

// CouponHistoryFor returns the lifecycle transitions of one course, newest first.
func (db *DB) CouponHistoryFor(ctx context.Context, courseID int64, limit int) ([]models.CouponHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT course_id, title, coupon_url, status, recorded_at
		 FROM coupon_history WHERE course_id = ?
		 ORDER BY recorded_at DESC LIMIT ?`, courseID, limit)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("history_for").Inc()
		return nil, fmt.Errorf("failed to query history for course %d: %w", courseID, err)
	}
	defer closeQuietly(rows)

	var out []models.CouponHistory
	for rows.Next() {
		var h models.CouponHistory
		if err := rows.Scan(&h.CourseID, &h.Title, &h.CouponURL, &h.Status, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanCoupon(s scanner) (*models.CouponCourse, error) {
	var c models.CouponCourse
	err := s.Scan(
		&c.CourseID, &c.Title, &c.Headline, &c.Description, &c.Category, &c.SubCategory,
		&c.Level, &c.Language, &c.Author, &c.ContentLength, &c.PreviewImage, &c.PreviewVideo,
		&c.Rating, &c.Reviews, &c.Students,
		&c.CouponCode, &c.CouponURL, &c.ExpiresAt, &c.UsesRemaining,
		&c.IsActive, &c.LastValidatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// DuckDB returns TIMESTAMP values in UTC already; normalize anyway so
	// comparisons in callers never trip over wall-clock locations.
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.LastValidatedAt = c.LastValidatedAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// diffCoupon lists the material fields that differ between the stored row
// and the incoming record. Timestamps last_validated_at, created_at and
// updated_at are bookkeeping, not content, and never count.
func diffCoupon(old, next *models.CouponCourse) []string {
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}

	add("title", old.Title != next.Title)
	add("headline", old.Headline != next.Headline)
	add("description", old.Description != next.Description)
	add("category", old.Category != next.Category)
	add("sub_category", old.SubCategory != next.SubCategory)
	add("level", old.Level != next.Level)
	add("language", old.Language != next.Language)
	add("author", old.Author != next.Author)
	add("content_length", old.ContentLength != next.ContentLength)
	add("preview_image", old.PreviewImage != next.PreviewImage)
	add("preview_video", old.PreviewVideo != next.PreviewVideo)
	add("rating", old.Rating != next.Rating)
	add("reviews", old.Reviews != next.Reviews)
	add("students", old.Students != next.Students)
	add("coupon_code", old.CouponCode != next.CouponCode)
	add("coupon_url", old.CouponURL != next.CouponURL)
	add("expires_at", !old.ExpiresAt.Equal(next.ExpiresAt))
	add("uses_remaining", old.UsesRemaining != next.UsesRemaining)
	add("is_active", old.IsActive != next.IsActive)

	return changed
}
