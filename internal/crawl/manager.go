// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package crawl implements the fetch-validate-upsert pipeline: source
// adapters discover coupon URLs, the Udemy extractor enriches them into raw
// records, the validator classifies them, and the upserter applies them to
// the canonical store while emitting change events.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/metrics"
	"github.com/huythanh0x/udemycoupons/internal/models"
	"github.com/huythanh0x/udemycoupons/internal/validation"
)

// Manager schedules crawl cycles: one per source per interval, plus
// on-demand triggers. A per-source mutex guarantees at most one cycle per
// source; a tick or trigger that finds one running is dropped, never queued.
type Manager struct {
	cfg       *config.CrawlConfig
	adapters  []Adapter
	extractor *UdemyExtractor
	upserter  *Upserter

	locks map[string]*sync.Mutex

	mu          sync.RWMutex
	lastReports map[string]models.CycleReport
	current     map[string]*models.CrawlCycle

	// runCtx outlives any single request but not the manager: triggered
	// cycles run under it so Stop can abandon their outstanding fetches.
	runCtx    context.Context
	cancelRun context.CancelFunc

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager wires the pipeline together.
func NewManager(cfg *config.CrawlConfig, adapters []Adapter, extractor *UdemyExtractor, upserter *Upserter) *Manager {
	locks := make(map[string]*sync.Mutex, len(adapters))
	for _, a := range adapters {
		locks[a.Name()] = &sync.Mutex{}
	}
	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Manager{
		cfg:         cfg,
		adapters:    adapters,
		extractor:   extractor,
		upserter:    upserter,
		locks:       locks,
		lastReports: make(map[string]models.CycleReport),
		current:     make(map[string]*models.CrawlCycle),
		runCtx:      runCtx,
		cancelRun:   cancelRun,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the periodic scheduler. The first pass runs immediately so
// a fresh deployment serves coupons without waiting a full interval.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		logging.Info().Dur("interval", m.cfg.Interval).Int("sources", len(m.adapters)).
			Msg("Crawl scheduler started")

		m.RunAll(ctx)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunAll(ctx)
			case <-m.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduler, cancels in-flight triggered cycles and waits
// for them to finalize. An interrupted cycle keeps the writes it already
// made and is recorded PARTIAL.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.cancelRun()
	})
	m.wg.Wait()
}

// RunAll runs one cycle per source, sequentially. Sources stay sequential
// on purpose: both aggregators are run by hobbyists, and the extractor's
// Udemy budget is shared either way.
func (m *Manager) RunAll(ctx context.Context) {
	for _, adapter := range m.adapters {
		if ctx.Err() != nil {
			return
		}
		if err := m.runCycle(ctx, adapter); err != nil && !errors.Is(err, ErrCycleInFlight) {
			logging.Error().Str("source", adapter.Name()).Err(err).Msg("Crawl cycle failed")
		}
	}
}

// Trigger starts an on-demand cycle for one source in the background.
// Returns ErrCycleInFlight if the source is already crawling, without
// queueing a second run. The cycle runs under the manager's lifecycle
// context, not the caller's: it outlives the triggering request but is
// cancelled by Stop.
func (m *Manager) Trigger(source string) error {
	var adapter Adapter
	for _, a := range m.adapters {
		if a.Name() == source {
			adapter = a
			break
		}
	}
	if adapter == nil {
		return fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	lock := m.locks[source]
	if !lock.TryLock() {
		metrics.CrawlCyclesSkipped.WithLabelValues(source).Inc()
		return ErrCycleInFlight
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer lock.Unlock()
		m.runLockedCycle(m.runCtx, adapter)
	}()
	return nil
}

// runCycle is the synchronous path used by the scheduler.
func (m *Manager) runCycle(ctx context.Context, adapter Adapter) error {
	lock := m.locks[adapter.Name()]
	if !lock.TryLock() {
		metrics.CrawlCyclesSkipped.WithLabelValues(adapter.Name()).Inc()
		logging.Warn().Str("source", adapter.Name()).
			Msg("Skipping tick, previous cycle still running")
		return ErrCycleInFlight
	}
	defer lock.Unlock()

	m.runLockedCycle(ctx, adapter)
	return nil
}

// runLockedCycle executes one full cycle. Caller holds the source lock.
func (m *Manager) runLockedCycle(ctx context.Context, adapter Adapter) {
	source := adapter.Name()
	cycle := &models.CrawlCycle{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now().UTC(),
		Status:    models.CycleRunning,
	}
	m.setCurrent(source, cycle)

	logging.Info().Str("source", source).Str("cycle_id", cycle.ID).Msg("Crawl cycle started")

	urls, collectErr := adapter.FetchCouponURLs(ctx)
	cycle.Seen.Store(int64(len(urls)))

	if collectErr != nil && len(urls) == 0 {
		// Cancellation is an interrupted pass, not a broken source.
		status := models.CycleFailed
		if ctx.Err() != nil {
			status = models.CyclePartial
		}
		m.finalize(cycle, status)
		logging.Error().Str("source", source).Err(collectErr).Msg("Source unreachable, cycle failed")
		return
	}

	m.processURLs(ctx, cycle, urls)

	// Rows whose coupons lapsed since their last sighting age out here,
	// whether or not any listing still mentions them.
	if swept, err := m.upserter.SweepExpired(ctx); err != nil {
		logging.Warn().Str("source", source).Err(err).Msg("Expiry sweep failed")
	} else if swept > 0 {
		cycle.Deactivated.Add(int64(swept))
		logging.Info().Str("source", source).Int("count", swept).Msg("Swept lapsed coupons")
	}

	status := models.CycleCompleted
	if ctx.Err() != nil || collectErr != nil {
		// Whatever was upserted before interruption stays; the report
		// says the pass did not cover the full listing.
		status = models.CyclePartial
	}
	m.finalize(cycle, status)
}

// processURLs runs the per-record pipeline over a bounded worker pool.
// Record failures are counted, never propagated: one bad coupon page must
// not cost the rest of the cycle.
func (m *Manager) processURLs(ctx context.Context, cycle *models.CrawlCycle, urls []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)

	for _, url := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			m.processOne(gctx, cycle, url)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) processOne(ctx context.Context, cycle *models.CrawlCycle, url string) {
	raw, err := m.extractor.FetchRawCoupon(ctx, url)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			cycle.ParseErrors.Add(1)
			metrics.FetchErrorsTotal.WithLabelValues(cycle.Source, "parse").Inc()
		} else {
			cycle.Failed.Add(1)
		}
		logging.Debug().Str("source", cycle.Source).Str("url", url).Err(err).
			Msg("Record extraction failed")
		return
	}

	v := validation.ValidateCoupon(raw, time.Now().UTC())
	if v.Outcome != validation.OutcomeRejected {
		cycle.Validated.Add(1)
	}

	if err := m.upserter.Apply(ctx, v, cycle); err != nil {
		logging.Warn().Str("source", cycle.Source).Int64("course_id", raw.CourseID).Err(err).
			Msg("Record apply failed")
	}
}

func (m *Manager) setCurrent(source string, cycle *models.CrawlCycle) {
	m.mu.Lock()
	m.current[source] = cycle
	m.mu.Unlock()
}

func (m *Manager) finalize(cycle *models.CrawlCycle, status models.CycleStatus) {
	cycle.EndedAt = time.Now().UTC()
	cycle.Status = status
	report := cycle.Report()

	m.mu.Lock()
	m.lastReports[cycle.Source] = report
	delete(m.current, cycle.Source)
	m.mu.Unlock()

	duration := cycle.EndedAt.Sub(cycle.StartedAt)
	metrics.CrawlCyclesTotal.WithLabelValues(cycle.Source, string(status)).Inc()
	metrics.CrawlCycleDuration.WithLabelValues(cycle.Source).Observe(duration.Seconds())

	logging.Info().
		Str("source", cycle.Source).
		Str("cycle_id", cycle.ID).
		Str("status", string(status)).
		Dur("duration", duration).
		Int64("seen", report.Seen).
		Int64("validated", report.Validated).
		Int64("rejected", report.Rejected).
		Int64("inserted", report.Inserted).
		Int64("updated", report.Updated).
		Int64("deactivated", report.Deactivated).
		Int64("unchanged", report.Unchanged).
		Int64("failed", report.Failed).
		Int64("parse_errors", report.ParseErrors).
		Msg("Crawl cycle finished")
}

// Status reports the last finished cycle per source plus any in-flight
// cycle snapshots.
func (m *Manager) Status() map[string]models.CycleReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]models.CycleReport, len(m.lastReports)+len(m.current))
	for source, report := range m.lastReports {
		out[source] = report
	}
	for source, cycle := range m.current {
		out[source] = cycle.Report()
	}
	return out
}

// Sources lists the registered source names.
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.adapters))
	for _, a := range m.adapters {
		names = append(names, a.Name())
	}
	return names
}
