// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package cache

import (
	"context"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/singleflight"

	"github.com/huythanh0x/udemycoupons/internal/eventprocessor"
	"github.com/huythanh0x/udemycoupons/internal/logging"
)

// Loader rebuilds a cache value from the canonical store on a miss.
type Loader func(ctx context.Context) (interface{}, error)

// Coordinator ties the store to the change-event stream. Reads go through
// GetOrLoad, which collapses concurrent misses for the same key into a
// single store query; writes to the canonical store arrive as events and
// invalidate the affected namespaces.
type Coordinator struct {
	store  *Store
	flight singleflight.Group
}

// NewCoordinator wraps a store.
func NewCoordinator(store *Store) *Coordinator {
	return &Coordinator{store: store}
}

// Store exposes the underlying store.
func (c *Coordinator) Store() *Store {
	return c.store
}

// GetOrLoad returns the cached value for key, or runs loader exactly once
// for all concurrent callers that miss on the same key. The loaded value is
// cached under the generation current at load start, so an invalidation
// racing with the rebuild stales the entry rather than losing the write.
func (c *Coordinator) GetOrLoad(ctx context.Context, namespace, key string, loader Loader) (interface{}, error) {
	if value, ok := c.store.Get(namespace, key); ok {
		return value, nil
	}

	value, err, _ := c.flight.Do(namespace+":"+key, func() (interface{}, error) {
		// A winner may have populated the key while we queued.
		if value, ok := c.store.Get(namespace, key); ok {
			return value, nil
		}
		generation := c.store.Generation(namespace)
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.store.SetAt(namespace, key, value, generation)
		return value, nil
	})
	return value, err
}

// HandleChangeEvent is the router consumer for course change events. Any
// write invalidates the whole list namespace: a single changed row can move
// in or out of arbitrarily many filtered pages, so per-key invalidation of
// listings would either miss entries or require tracking every filter
// combination. Detail entries are keyed by course id and dropped precisely.
func (c *Coordinator) HandleChangeEvent(msg *message.Message) error {
	event, err := eventprocessor.ParseCourseChangeEvent(msg)
	if err != nil {
		// Malformed payloads cannot succeed on retry; let the router's
		// poison queue take them.
		return err
	}

	c.store.Delete(NamespaceDetail, DetailKey(event.CourseID))
	c.store.Invalidate(NamespaceList, "event")

	logging.Debug().
		Str("event_id", event.EventID).
		Str("type", event.Type).
		Int64("course_id", event.CourseID).
		Msg("Cache invalidated by change event")
	return nil
}

// DetailKey is the cache key of a single course's detail entry.
func DetailKey(courseID int64) string {
	return strconv.FormatInt(courseID, 10)
}
