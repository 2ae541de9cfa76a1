// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package eventprocessor

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/metrics"
)

// Publisher publishes course change events to the bus. Publishing is
// best-effort from the pipeline's point of view: a failed publish is logged
// and counted but never fails the upsert that triggered it, because the
// cache TTL bounds how long a missed invalidation can live.
type Publisher struct {
	pub    message.Publisher
	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps a Watermill publisher.
func NewPublisher(pub message.Publisher) *Publisher {
	return &Publisher{pub: pub}
}

// PublishChange serializes and publishes one event.
func (p *Publisher) PublishChange(event *CourseChangeEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	msg, err := event.Message()
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", event.EventID, err)
	}

	if err := p.pub.Publish(TopicCourseChanges, msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventID, err)
	}

	metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	logging.Debug().
		Str("event_id", event.EventID).
		Str("type", event.Type).
		Int64("course_id", event.CourseID).
		Msg("Published course change event")
	return nil
}

// Close marks the publisher closed. The underlying pub/sub is owned by the
// Bus and closed there.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
