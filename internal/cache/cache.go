// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package cache provides the coherent read-path cache between the API and
// the canonical store. Entries are stamped with a per-namespace generation;
// invalidation bumps the generation and lets stale entries die lazily, with
// a TTL as the safety net for missed invalidations.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/huythanh0x/udemycoupons/internal/metrics"
)

// Namespaces used by the serving layer.
const (
	NamespaceList   = "list"
	NamespaceDetail = "detail"
)

// Entry is a cached value stamped with the namespace generation it was
// built against.
type Entry struct {
	Data       interface{}
	Generation uint64
	ExpiresAt  time.Time
}

// Store is a thread-safe in-memory cache with per-namespace generations
// and TTL expiration.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]Entry
	generations map[string]*atomic.Uint64
	ttl         time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewStore creates a cache store. A background goroutine sweeps expired
// entries so invalidated namespaces do not pin memory until re-read.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		entries: make(map[string]Entry),
		generations: map[string]*atomic.Uint64{
			NamespaceList:   {},
			NamespaceDetail: {},
		},
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Close stops the background cleanup goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) generation(namespace string) *atomic.Uint64 {
	s.mu.RLock()
	g, ok := s.generations[namespace]
	s.mu.RUnlock()
	if ok {
		return g
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok = s.generations[namespace]; ok {
		return g
	}
	g = &atomic.Uint64{}
	s.generations[namespace] = g
	return g
}

// Get returns the cached value for key if it is fresh: not TTL-expired and
// built against the current namespace generation.
func (s *Store) Get(namespace, key string) (interface{}, bool) {
	s.mu.RLock()
	entry, exists := s.entries[namespace+":"+key]
	s.mu.RUnlock()

	if !exists {
		metrics.CacheMisses.WithLabelValues(namespace).Inc()
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) || entry.Generation != s.generation(namespace).Load() {
		s.mu.Lock()
		delete(s.entries, namespace+":"+key)
		s.mu.Unlock()
		metrics.CacheMisses.WithLabelValues(namespace).Inc()
		return nil, false
	}

	metrics.CacheHits.WithLabelValues(namespace).Inc()
	return entry.Data, true
}

// Set stores a value under the current namespace generation.
func (s *Store) Set(namespace, key string, value interface{}) {
	s.SetAt(namespace, key, value, s.generation(namespace).Load())
}

// SetAt stores a value under an explicit generation stamp. Rebuilders
// capture the generation before reading the canonical store and write the
// result under that stamp: an invalidation racing the rebuild has already
// bumped the namespace, so the entry lands stale instead of masking the
// invalidation until TTL.
func (s *Store) SetAt(namespace, key string, value interface{}, generation uint64) {
	entry := Entry{
		Data:       value,
		Generation: generation,
		ExpiresAt:  time.Now().Add(s.ttl),
	}
	s.mu.Lock()
	s.entries[namespace+":"+key] = entry
	s.mu.Unlock()
}

// Delete removes a single key.
func (s *Store) Delete(namespace, key string) {
	s.mu.Lock()
	delete(s.entries, namespace+":"+key)
	s.mu.Unlock()
}

// Invalidate bumps the namespace generation, staling every entry under it.
// Existing entries are removed lazily by Get or the cleanup sweep.
func (s *Store) Invalidate(namespace, trigger string) {
	gen := s.generation(namespace).Add(1)
	metrics.CacheInvalidations.WithLabelValues(namespace, trigger).Inc()
	metrics.CacheGeneration.Set(float64(gen))
}

// Generation returns the current generation of a namespace.
func (s *Store) Generation(namespace string) uint64 {
	return s.generation(namespace).Load()
}

// Len returns the number of entries currently held, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *Store) cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
		}
	}
}

// GenerateKey derives a stable cache key from any JSON-serializable set of
// query parameters.
func GenerateKey(prefix string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:unserializable:%v", prefix, params)
	}
	return fmt.Sprintf("%s:%x", prefix, sha256.Sum256(data))
}
