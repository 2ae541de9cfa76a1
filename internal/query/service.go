// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package query is the read side of the service: every API read goes
// through it, and it decides between the cache and the canonical store.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huythanh0x/udemycoupons/internal/cache"
	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/database"
	"github.com/huythanh0x/udemycoupons/internal/models"
)

// ErrNotFound is returned when a course id has no canonical row.
var ErrNotFound = database.ErrNotFound

// ErrInvalidSort is returned for unknown sort orders.
var ErrInvalidSort = errors.New("unknown sort order")

// ListParams narrows and orders a course listing request.
type ListParams struct {
	Category  string
	Level     string
	Language  string
	MinRating float64
	Search    string
	Sort      string
	Page      int
	PageSize  int
}

// Service serves course reads through the coherent cache.
type Service struct {
	db          *database.DB
	coordinator *cache.Coordinator
	defaultPage int
	maxPage     int
	newWithin   time.Duration
	now         func() time.Time
}

// New creates the query service.
func New(db *database.DB, coordinator *cache.Coordinator, apiCfg *config.APIConfig, newWithin time.Duration) *Service {
	return &Service{
		db:          db,
		coordinator: coordinator,
		defaultPage: apiCfg.DefaultPageSize,
		maxPage:     apiCfg.MaxPageSize,
		newWithin:   newWithin,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// normalize clamps pagination and validates the sort order.
func (s *Service) normalize(p ListParams) (ListParams, error) {
	if !database.ValidSort(p.Sort) {
		return p, fmt.Errorf("%w: %q", ErrInvalidSort, p.Sort)
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = s.defaultPage
	}
	if p.PageSize > s.maxPage {
		p.PageSize = s.maxPage
	}
	return p, nil
}

// ListActiveCourses returns one page of active coupons. The second return
// value reports whether the page came from the cache.
func (s *Service) ListActiveCourses(ctx context.Context, params ListParams) (*models.PagedCoupons, bool, error) {
	params, err := s.normalize(params)
	if err != nil {
		return nil, false, err
	}

	key := cache.GenerateKey("active", params)
	cached := true
	value, err := s.coordinator.GetOrLoad(ctx, cache.NamespaceList, key, func(ctx context.Context) (interface{}, error) {
		cached = false
		return s.loadPage(ctx, params)
	})
	if err != nil {
		return nil, false, err
	}

	page, ok := value.(*models.PagedCoupons)
	if !ok {
		return nil, false, fmt.Errorf("unexpected cache entry type %T", value)
	}
	return page, cached, nil
}

func (s *Service) loadPage(ctx context.Context, params ListParams) (*models.PagedCoupons, error) {
	filter := database.ListFilter{
		Category:  params.Category,
		Level:     params.Level,
		Language:  params.Language,
		MinRating: params.MinRating,
		Search:    params.Search,
		Sort:      params.Sort,
		Page:      params.Page,
		PageSize:  params.PageSize,
		NewCutoff: s.now().Add(-s.newWithin),
	}

	items, total, err := s.db.ListActiveCoupons(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list active courses: %w", err)
	}

	totalPages := total / params.PageSize
	if total%params.PageSize != 0 {
		totalPages++
	}

	return &models.PagedCoupons{
		Items:      items,
		TotalCount: total,
		TotalPages: totalPages,
		Page:       params.Page,
		PageSize:   params.PageSize,
	}, nil
}

// GetCourseDetail returns one course by id regardless of active state, so
// a just-expired course page can still render with an "expired" badge. The
// second return value reports a cache hit.
func (s *Service) GetCourseDetail(ctx context.Context, courseID int64) (*models.CouponCourse, bool, error) {
	cached := true
	value, err := s.coordinator.GetOrLoad(ctx, cache.NamespaceDetail, cache.DetailKey(courseID),
		func(ctx context.Context) (interface{}, error) {
			cached = false
			course, err := s.db.GetCoupon(ctx, courseID)
			if err != nil {
				return nil, err
			}
			course.IsNew = course.CreatedAt.After(s.now().Add(-s.newWithin))
			return course, nil
		})
	if err != nil {
		return nil, false, err
	}

	course, ok := value.(*models.CouponCourse)
	if !ok {
		return nil, false, fmt.Errorf("unexpected cache entry type %T", value)
	}
	return course, cached, nil
}

// CourseHistory returns the lifecycle transitions of one course. History is
// an audit read, rare enough to skip the cache entirely.
func (s *Service) CourseHistory(ctx context.Context, courseID int64, limit int) ([]models.CouponHistory, error) {
	return s.db.CouponHistoryFor(ctx, courseID, limit)
}

// ActiveCount returns the live number of active coupons, uncached; it backs
// the health endpoint.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	return s.db.ActiveCouponCount(ctx)
}
