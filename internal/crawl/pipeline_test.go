// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package crawl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/database"
	"github.com/huythanh0x/udemycoupons/internal/eventprocessor"
	"github.com/huythanh0x/udemycoupons/internal/models"
)

// stubAdapter feeds the pipeline a fixed URL list.
type stubAdapter struct {
	name string
	mu   sync.Mutex
	urls []string
	err  error

	// block, when set, holds FetchCouponURLs until released.
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.urls...), s.err
}

func (s *stubAdapter) setURLs(urls []string) {
	s.mu.Lock()
	s.urls = urls
	s.mu.Unlock()
}

type pipelineFixture struct {
	db      *database.DB
	bus     *eventprocessor.Bus
	manager *Manager
	adapter *stubAdapter
}

func newPipeline(t *testing.T, adapter *stubAdapter, udemyURL string) *pipelineFixture {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: "", MaxMemory: "256MB", Threads: 2})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	bus := eventprocessor.NewBus(watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })

	upserter := NewUpserter(db, eventprocessor.NewPublisher(bus.PubSub()), 2)

	fetcher := NewBreakerFetcher(udemySource, NewFetcher(udemySource, fastCrawlConfig()))
	extractor := NewUdemyExtractor(fetcher, udemyURL)

	cfg := fastCrawlConfig()
	cfg.Interval = time.Hour
	manager := NewManager(cfg, []Adapter{adapter}, extractor, upserter)

	return &pipelineFixture{db: db, bus: bus, manager: manager, adapter: adapter}
}

func (f *pipelineFixture) runCycle(t *testing.T) models.CycleReport {
	t.Helper()
	f.manager.RunAll(context.Background())
	report, ok := f.manager.Status()[f.adapter.name]
	require.True(t, ok, "cycle report missing")
	return report
}

func TestCycleReportCounts(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{
		"a": {CourseID: 1, Title: "A", Price: 0},
		"b": {CourseID: 2, Title: "B", Price: 0},
		"c": {CourseID: 3, Title: "C", Price: 12.99}, // no longer free
	})

	adapter := &stubAdapter{name: "stub", urls: []string{
		server.URL + "/course/a/?couponCode=AA",
		server.URL + "/course/b/?couponCode=BB",
		server.URL + "/course/c/?couponCode=CC",
	}}
	f := newPipeline(t, adapter, server.URL)

	report := f.runCycle(t)
	assert.Equal(t, models.CycleCompleted, report.Status)
	assert.Equal(t, int64(3), report.Seen)
	assert.Equal(t, int64(2), report.Validated)
	assert.Equal(t, int64(1), report.Rejected)
	assert.Equal(t, int64(2), report.Inserted)
	assert.Zero(t, report.Failed)

	count, err := f.db.ActiveCouponCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count, "rejected record must not reach the store")
}

func TestCycleCountsParseFailures(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{
		"a": {CourseID: 1, Title: "A", Price: 0},
	})

	adapter := &stubAdapter{name: "stub", urls: []string{
		server.URL + "/course/a/?couponCode=AA",
		server.URL + "/course/a/", // no coupon code in URL
	}}
	f := newPipeline(t, adapter, server.URL)

	report := f.runCycle(t)
	assert.Equal(t, int64(2), report.Seen)
	assert.Equal(t, int64(1), report.Inserted)
	assert.Equal(t, int64(1), report.ParseErrors)
	assert.Equal(t, models.CycleCompleted, report.Status, "parse errors fail records, not cycles")
}

func TestCycleIdempotence(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{
		"a": {CourseID: 1, Title: "A", Price: 0},
		"b": {CourseID: 2, Title: "B", Price: 0},
	})

	adapter := &stubAdapter{name: "stub", urls: []string{
		server.URL + "/course/a/?couponCode=AA",
		server.URL + "/course/b/?couponCode=BB",
	}}
	f := newPipeline(t, adapter, server.URL)

	first := f.runCycle(t)
	assert.Equal(t, int64(2), first.Inserted)

	second := f.runCycle(t)
	assert.Zero(t, second.Inserted, "identical upstream must insert nothing")
	assert.Zero(t, second.Updated, "identical upstream must update nothing")
	assert.Equal(t, int64(2), second.Unchanged)
}

func TestCouponCodeChangeUpdatesCourse(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{
		"go": {CourseID: 101, Title: "Go Deep", Price: 0},
	})

	adapter := &stubAdapter{name: "stub", urls: []string{
		server.URL + "/course/go/?couponCode=OLDCODE",
	}}
	f := newPipeline(t, adapter, server.URL)

	// Watch the change stream for the update event.
	events, err := f.bus.PubSub().Subscribe(context.Background(), eventprocessor.TopicCourseChanges)
	require.NoError(t, err)

	f.runCycle(t)
	select {
	case msg := <-events:
		msg.Ack()
		e, err := eventprocessor.ParseCourseChangeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, eventprocessor.EventCourseCreated, e.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no created event")
	}

	// The aggregator now lists a fresh code for the same course.
	adapter.setURLs([]string{server.URL + "/course/go/?couponCode=NEWCODE"})
	report := f.runCycle(t)
	assert.Equal(t, int64(1), report.Updated)

	course, err := f.db.GetCoupon(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, "NEWCODE", course.CouponCode)
	assert.True(t, course.IsActive)

	select {
	case msg := <-events:
		msg.Ack()
		e, err := eventprocessor.ParseCourseChangeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, eventprocessor.EventCourseUpdated, e.Type)
		assert.Equal(t, int64(101), e.CourseID)
		assert.Contains(t, e.ChangedFields, "coupon_code")
	case <-time.After(5 * time.Second):
		t.Fatal("no updated event")
	}
}

func TestDepletedCouponDeactivates(t *testing.T) {
	depleted := 0
	server := newFakeUdemy(t, map[string]udemyFixture{
		"go": {CourseID: 101, Title: "Go Deep", Price: 0, UsesRemaining: &depleted},
	})

	adapter := &stubAdapter{name: "stub", urls: []string{
		server.URL + "/course/go/?couponCode=GONE",
	}}
	f := newPipeline(t, adapter, server.URL)

	// Seed the course as active first.
	_, err := f.db.UpsertCoupon(context.Background(), models.CouponCourse{
		CourseID:        101,
		Title:           "Go Deep",
		CouponCode:      "GONE",
		CouponURL:       server.URL + "/course/go/?couponCode=GONE",
		ExpiresAt:       time.Now().UTC().Add(48 * time.Hour),
		UsesRemaining:   models.UsesUnlimited,
		IsActive:        true,
		LastValidatedAt: time.Now().UTC(),
	}, time.Now().UTC())
	require.NoError(t, err)

	report := f.runCycle(t)
	assert.GreaterOrEqual(t, report.Deactivated, int64(1))

	course, err := f.db.GetCoupon(context.Background(), 101)
	require.NoError(t, err)
	assert.False(t, course.IsActive, "depleted counter means the coupon is done")
}

func TestTriggerWhileCycleInFlight(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{})

	adapter := &stubAdapter{name: "stub", block: make(chan struct{})}
	f := newPipeline(t, adapter, server.URL)

	require.NoError(t, f.manager.Trigger("stub"))

	// The first cycle is parked inside the adapter; a second trigger must
	// be refused, not queued.
	err := f.manager.Trigger("stub")
	assert.ErrorIs(t, err, ErrCycleInFlight)

	close(adapter.block)
	f.manager.Stop()
}

func TestStopCancelsTriggeredCycle(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{})

	// The adapter parks until its context is cancelled, standing in for a
	// slow source at shutdown time.
	adapter := &stubAdapter{name: "stub", block: make(chan struct{})}
	f := newPipeline(t, adapter, server.URL)

	require.NoError(t, f.manager.Trigger("stub"))

	done := make(chan struct{})
	go func() {
		f.manager.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop must not wait out a parked cycle")
	}

	report, ok := f.manager.Status()["stub"]
	require.True(t, ok)
	assert.Equal(t, models.CyclePartial, report.Status,
		"an interrupted cycle is partial, not completed or failed")
}

func TestTriggerUnknownSource(t *testing.T) {
	server := newFakeUdemy(t, map[string]udemyFixture{})
	f := newPipeline(t, &stubAdapter{name: "stub"}, server.URL)

	err := f.manager.Trigger("nope")
	assert.ErrorIs(t, err, ErrUnknownSource)
}
