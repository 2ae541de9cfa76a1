// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/huythanh0x/udemycoupons/internal/metrics"
	"github.com/huythanh0x/udemycoupons/internal/models"
)

// Sort orders supported by ListActiveCoupons.
const (
	SortPopularity    = "popularity"
	SortRating        = "rating"
	SortRecency       = "recency"
	SortContentLength = "content_length"
	SortUsesRemaining = "uses_remaining"
)

// ValidSort reports whether s names a supported sort order.
func ValidSort(s string) bool {
	switch s {
	case SortPopularity, SortRating, SortRecency, SortContentLength, SortUsesRemaining, "":
		return true
	}
	return false
}

// ListFilter narrows and orders the active-coupon listing. Zero values mean
// "no constraint". Page is 1-based.
type ListFilter struct {
	Category  string
	Level     string
	Language  string
	MinRating float64
	Search    string // case-insensitive substring over title and headline

	Sort     string // one of the Sort* constants, default SortRecency
	Page     int
	PageSize int

	// NewCutoff marks rows created after it with is_new in the result.
	NewCutoff time.Time
}

// orderClause maps a sort name to its ORDER BY expression. Course id breaks
// ties so pagination is stable across identical sort keys.
func orderClause(sort string) string {
	switch sort {
	case SortPopularity:
		return "students DESC, course_id"
	case SortRating:
		return "rating DESC, reviews DESC, course_id"
	case SortContentLength:
		return "content_length DESC, course_id"
	case SortUsesRemaining:
		// Unlimited (-1) counters sort after concrete counters.
		return "CASE WHEN uses_remaining < 0 THEN 1 ELSE 0 END, uses_remaining DESC, course_id"
	default: // SortRecency
		return "updated_at DESC, course_id"
	}
}

// ListActiveCoupons returns one page of active coupons matching the filter,
// along with the total match count for pagination metadata.
func (db *DB) ListActiveCoupons(ctx context.Context, f ListFilter) ([]models.CouponCourse, int, error) {
	timer := metrics.DBQueryDuration.WithLabelValues("list_active")
	start := time.Now()
	defer func() { timer.Observe(time.Since(start).Seconds()) }()

	where, args := buildListWhere(f)

	var total int
	countQuery := `SELECT COUNT(*) FROM coupon_courses ` + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		metrics.DBQueryErrors.WithLabelValues("list_active").Inc()
		return nil, 0, fmt.Errorf("failed to count active courses: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	query := `SELECT ` + couponColumns + ` FROM coupon_courses ` + where +
		` ORDER BY ` + orderClause(f.Sort) +
		` LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues("list_active").Inc()
		return nil, 0, fmt.Errorf("failed to list active courses: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.CouponCourse
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan course row: %w", err)
		}
		if !f.NewCutoff.IsZero() {
			c.IsNew = c.CreatedAt.After(f.NewCutoff)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate course rows: %w", err)
	}

	return out, total, nil
}

// buildListWhere assembles the WHERE clause and its bind arguments.
func buildListWhere(f ListFilter) (string, []any) {
	conds := []string{"is_active"}
	var args []any

	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Level != "" {
		conds = append(conds, "level = ?")
		args = append(args, f.Level)
	}
	if f.Language != "" {
		conds = append(conds, "language = ?")
		args = append(args, f.Language)
	}
	if f.MinRating > 0 {
		conds = append(conds, "rating >= ?")
		args = append(args, f.MinRating)
	}
	if f.Search != "" {
		// Escape LIKE metacharacters so user input stays a literal substring.
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(f.Search)
		pattern := "%" + escaped + "%"
		conds = append(conds, `(title ILIKE ? ESCAPE '\' OR headline ILIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}
