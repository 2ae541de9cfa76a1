// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huythanh0x/udemycoupons/internal/cache"
	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/crawl"
	"github.com/huythanh0x/udemycoupons/internal/database"
	"github.com/huythanh0x/udemycoupons/internal/eventprocessor"
	"github.com/huythanh0x/udemycoupons/internal/models"
	"github.com/huythanh0x/udemycoupons/internal/query"
)

// stubAdapter feeds the crawl manager a fixed (empty) listing so trigger
// endpoints can be exercised without network access.
type stubAdapter struct {
	name  string
	block chan struct{}
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) FetchCouponURLs(ctx context.Context) ([]string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

type apiFixture struct {
	db      *database.DB
	manager *crawl.Manager
	handler http.Handler
}

func newAPIFixture(t *testing.T, apiCfg *config.APIConfig, adapter *stubAdapter) *apiFixture {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: "", MaxMemory: "256MB", Threads: 2})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	store := cache.NewStore(time.Minute)
	t.Cleanup(store.Close)
	coordinator := cache.NewCoordinator(store)

	querySvc := query.New(db, coordinator, apiCfg, 24*time.Hour)

	crawlCfg := &config.CrawlConfig{
		Interval:       time.Hour,
		Workers:        2,
		FetchTimeout:   time.Second,
		MinRequestGap:  time.Millisecond,
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
	}

	bus := eventprocessor.NewBus(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	upserter := crawl.NewUpserter(db, eventprocessor.NewPublisher(bus.PubSub()), 1)

	fetcher := crawl.NewBreakerFetcher("udemy", crawl.NewFetcher("udemy", crawlCfg))
	extractor := crawl.NewUdemyExtractor(fetcher, "http://127.0.0.1:1")

	manager := crawl.NewManager(crawlCfg, []crawl.Adapter{adapter}, extractor, upserter)
	t.Cleanup(manager.Stop)

	handler := NewHandler(querySvc, manager, "test")
	return &apiFixture{
		db:      db,
		manager: manager,
		handler: NewRouter(handler, apiCfg).Setup(),
	}
}

func testAPIConfig() *config.APIConfig {
	return &config.APIConfig{
		DefaultPageSize: 20,
		MaxPageSize:     50,
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	}
}

func (f *apiFixture) seedCourse(t *testing.T, id int64, active bool) {
	t.Helper()
	now := time.Now().UTC()
	_, err := f.db.UpsertCoupon(context.Background(), models.CouponCourse{
		CourseID:        id,
		Title:           fmt.Sprintf("Course %d", id),
		Category:        "Development",
		CouponCode:      fmt.Sprintf("CODE%d", id),
		CouponURL:       fmt.Sprintf("https://www.udemy.com/course/c%d/?couponCode=CODE%d", id, id),
		ExpiresAt:       now.Add(48 * time.Hour),
		UsesRemaining:   models.UsesUnlimited,
		IsActive:        true,
		LastValidatedAt: now,
	}, now)
	require.NoError(t, err)
	if !active {
		require.NoError(t, f.db.DeactivateCoupon(context.Background(), id, now))
	}
}

// envelope mirrors the response wrapper for decoding in assertions.
type envelope struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata *models.Metadata `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func doRequest(t *testing.T, handler http.Handler, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestListCourses(t *testing.T) {
	f := newAPIFixture(t, testAPIConfig(), &stubAdapter{name: "stub"})
	f.seedCourse(t, 1, true)
	f.seedCourse(t, 2, true)
	f.seedCourse(t, 3, false)

	rec, env := doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.Status)
	require.NotNil(t, env.Metadata)
	assert.False(t, env.Metadata.Cached)

	var page models.PagedCoupons
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 2, page.TotalCount, "inactive rows stay out of listings")
	assert.Len(t, page.Items, 2)

	// Same query again comes from the cache.
	rec, env = doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Metadata)
	assert.True(t, env.Metadata.Cached)
}

func TestListCoursesRejectsBadParams(t *testing.T) {
	f := newAPIFixture(t, testAPIConfig(), &stubAdapter{name: "stub"})

	tests := []struct {
		target string
		code   string
	}{
		{"/api/v1/courses/?sort=bogus", "invalid_sort"},
		{"/api/v1/courses/?page=abc", "invalid_parameter"},
		{"/api/v1/courses/?page_size=-5", "invalid_parameter"},
		{"/api/v1/courses/?min_rating=6", "invalid_parameter"},
	}
	for _, tt := range tests {
		rec, env := doRequest(t, f.handler, http.MethodGet, tt.target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.target)
		require.NotNil(t, env.Error, tt.target)
		assert.Equal(t, tt.code, env.Error.Code, tt.target)
	}
}

func TestCourseDetail(t *testing.T) {
	f := newAPIFixture(t, testAPIConfig(), &stubAdapter{name: "stub"})
	f.seedCourse(t, 101, true)

	rec, env := doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/101")
	require.Equal(t, http.StatusOK, rec.Code)

	var course models.CouponCourse
	require.NoError(t, json.Unmarshal(env.Data, &course))
	assert.Equal(t, int64(101), course.CourseID)
	assert.Equal(t, "CODE101", course.CouponCode)

	rec, env = doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, _ = doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/banana")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCourseHistory(t *testing.T) {
	f := newAPIFixture(t, testAPIConfig(), &stubAdapter{name: "stub"})
	f.seedCourse(t, 101, true)
	require.NoError(t, f.db.InsertCouponHistory(context.Background(), models.CouponHistory{
		CourseID:   101,
		Title:      "Course 101",
		CouponURL:  "https://www.udemy.com/course/c101/?couponCode=CODE101",
		Status:     models.HistoryStatusNew,
		RecordedAt: time.Now().UTC(),
	}))

	rec, env := doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/101/history")
	require.Equal(t, http.StatusOK, rec.Code)

	var history []models.CouponHistory
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, models.HistoryStatusNew, history[0].Status)

	// Unknown course yields an empty list, not an error.
	rec, env = doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/999/history")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Empty(t, history)
}

func TestCrawlTrigger(t *testing.T) {
	adapter := &stubAdapter{name: "stub", block: make(chan struct{})}
	f := newAPIFixture(t, testAPIConfig(), adapter)

	rec, _ := doRequest(t, f.handler, http.MethodPost, "/api/v1/crawl/stub")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The first cycle is parked inside the adapter.
	rec, env := doRequest(t, f.handler, http.MethodPost, "/api/v1/crawl/stub")
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "cycle_in_flight", env.Error.Code)

	rec, env = doRequest(t, f.handler, http.MethodPost, "/api/v1/crawl/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "unknown_source", env.Error.Code)

	close(adapter.block)
	f.manager.Stop()

	rec, _ = doRequest(t, f.handler, http.MethodGet, "/api/v1/crawl/status")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, testAPIConfig(), &stubAdapter{name: "stub"})
	f.seedCourse(t, 1, true)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		ActiveCoupons int    `json:"active_coupons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 1, health.ActiveCoupons)
}

func TestRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimitReqs = 2
	f := newAPIFixture(t, cfg, &stubAdapter{name: "stub"})

	for i := 0; i < 2; i++ {
		rec, _ := doRequest(t, f.handler, http.MethodGet, "/api/v1/courses/")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/courses/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health stays reachable when consumers are throttled.
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
