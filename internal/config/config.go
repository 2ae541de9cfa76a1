// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package config loads layered configuration with koanf v2:
// built-in defaults, then an optional YAML file, then COUPON_* environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Crawl    CrawlConfig    `koanf:"crawl"`
	Enext    EnextConfig    `koanf:"enext"`
	RealDisc RealDiscConfig `koanf:"realdiscount"`
	Database DatabaseConfig `koanf:"database"`
	Cache    CacheConfig    `koanf:"cache"`
	Server   ServerConfig   `koanf:"server"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// CrawlConfig controls the crawl scheduler and pipeline.
type CrawlConfig struct {
	// Interval between crawl cycles per source.
	Interval time.Duration `koanf:"interval"`

	// Workers bounds concurrent page/detail fetches within a cycle.
	Workers int `koanf:"workers"`

	// FetchTimeout is the per-request HTTP timeout.
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// MinRequestGap is the minimum inter-request interval per source host.
	MinRequestGap time.Duration `koanf:"min_request_gap"`

	// RequestJitter is added on top of MinRequestGap, uniformly random.
	RequestJitter time.Duration `koanf:"request_jitter"`

	// RetryAttempts bounds fetch retries on throttling or transient errors.
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryBaseDelay seeds the exponential backoff (base * 2^attempt).
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RetryMaxDelay caps a single backoff wait.
	RetryMaxDelay time.Duration `koanf:"retry_max_delay"`

	// StoreRetryAttempts bounds retries of a failed canonical-store write.
	StoreRetryAttempts int `koanf:"store_retry_attempts"`

	// NewWithin is the recency window for the is_new flag.
	NewWithin time.Duration `koanf:"new_within"`
}

// EnextConfig configures the Enext HTML source adapter.
type EnextConfig struct {
	Enabled    bool   `koanf:"enabled"`
	BaseURL    string `koanf:"base_url"`
	MaxCoupons int    `koanf:"max_coupons"`
}

// RealDiscConfig configures the RealDiscount JSON API source adapter.
type RealDiscConfig struct {
	Enabled    bool   `koanf:"enabled"`
	APIURL     string `koanf:"api_url"`
	MaxCoupons int    `koanf:"max_coupons"`
}

// DatabaseConfig configures the embedded DuckDB canonical store.
type DatabaseConfig struct {
	// Path to the database file. Empty string opens an in-memory database.
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// CacheConfig configures the read-path cache.
type CacheConfig struct {
	// TTL is the safety-net expiry, independent of event invalidation.
	TTL time.Duration `koanf:"ttl"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// APIConfig configures the query surface.
type APIConfig struct {
	DefaultPageSize int           `koanf:"default_page_size"`
	MaxPageSize     int           `koanf:"max_page_size"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults mirror
// the production deployment; the crawl tunables follow the upstream sites'
// observed tolerance for polling.
func defaultConfig() *Config {
	return &Config{
		Crawl: CrawlConfig{
			Interval:           4 * time.Hour,
			Workers:            6,
			FetchTimeout:       20 * time.Second,
			MinRequestGap:      500 * time.Millisecond,
			RequestJitter:      250 * time.Millisecond,
			RetryAttempts:      4,
			RetryBaseDelay:     time.Second,
			RetryMaxDelay:      time.Minute,
			StoreRetryAttempts: 3,
			NewWithin:          24 * time.Hour,
		},
		Enext: EnextConfig{
			Enabled:    true,
			BaseURL:    "https://jobs.e-next.in",
			MaxCoupons: 240,
		},
		RealDisc: RealDiscConfig{
			Enabled:    true,
			APIURL:     "https://cdn.real.discount/api/courses",
			MaxCoupons: 500,
		},
		Database: DatabaseConfig{
			Path:      "/data/udemycoupons.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		API: APIConfig{
			DefaultPageSize: 20,
			MaxPageSize:     100,
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Crawl.Interval < time.Minute {
		return fmt.Errorf("crawl.interval must be at least 1m, got %s", c.Crawl.Interval)
	}
	if c.Crawl.Workers < 1 || c.Crawl.Workers > 64 {
		return fmt.Errorf("crawl.workers must be in [1,64], got %d", c.Crawl.Workers)
	}
	if c.Crawl.RetryAttempts < 0 {
		return fmt.Errorf("crawl.retry_attempts must be non-negative, got %d", c.Crawl.RetryAttempts)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size (%d) must be >= api.default_page_size (%d)",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	if !c.Enext.Enabled && !c.RealDisc.Enabled {
		return fmt.Errorf("at least one source adapter must be enabled")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	return nil
}
