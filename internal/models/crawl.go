// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package models

import (
	"sync/atomic"
	"time"
)

// CycleStatus is the terminal (or in-flight) state of a crawl cycle.
type CycleStatus string

const (
	CycleRunning   CycleStatus = "RUNNING"
	CycleCompleted CycleStatus = "COMPLETED"
	CyclePartial   CycleStatus = "PARTIAL"
	CycleFailed    CycleStatus = "FAILED"
)

// CrawlCycle is the ephemeral run record for one fetch-validate-upsert pass
// over a single source. Counters are atomic because pages are processed by
// a worker pool; the rest of the struct is written only by the scheduler at
// cycle start and finalization.
type CrawlCycle struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
	Status    CycleStatus `json:"status"`

	Seen        atomic.Int64 `json:"-"`
	Validated   atomic.Int64 `json:"-"`
	Rejected    atomic.Int64 `json:"-"`
	Inserted    atomic.Int64 `json:"-"`
	Updated     atomic.Int64 `json:"-"`
	Deactivated atomic.Int64 `json:"-"`
	Unchanged   atomic.Int64 `json:"-"`
	Failed      atomic.Int64 `json:"-"` // store-write failures after retry exhaustion
	ParseErrors atomic.Int64 `json:"-"`
}

// Report snapshots the cycle counters for the operational surface.
func (c *CrawlCycle) Report() CycleReport {
	return CycleReport{
		ID:          c.ID,
		Source:      c.Source,
		StartedAt:   c.StartedAt,
		EndedAt:     c.EndedAt,
		Status:      c.Status,
		Seen:        c.Seen.Load(),
		Validated:   c.Validated.Load(),
		Rejected:    c.Rejected.Load(),
		Inserted:    c.Inserted.Load(),
		Updated:     c.Updated.Load(),
		Deactivated: c.Deactivated.Load(),
		Unchanged:   c.Unchanged.Load(),
		Failed:      c.Failed.Load(),
		ParseErrors: c.ParseErrors.Load(),
	}
}

// CycleReport is the serializable snapshot of a crawl cycle, exposed to
// operational tooling via the API and logged at cycle end.
type CycleReport struct {
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	StartedAt   time.Time   `json:"started_at"`
	EndedAt     time.Time   `json:"ended_at"`
	Status      CycleStatus `json:"status"`
	Seen        int64       `json:"seen"`
	Validated   int64       `json:"validated"`
	Rejected    int64       `json:"rejected"`
	Inserted    int64       `json:"inserted"`
	Updated     int64       `json:"updated"`
	Deactivated int64       `json:"deactivated"`
	Unchanged   int64       `json:"unchanged"`
	Failed      int64       `json:"failed"`
	ParseErrors int64       `json:"parse_errors"`
}
