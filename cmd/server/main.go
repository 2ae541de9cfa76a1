// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package main is the entry point for the UdemyCoupons server.
//
// UdemyCoupons aggregates 100%-off Udemy coupons from third-party listing
// sites, validates every coupon against Udemy's own APIs, and serves the
// resulting catalog over a REST API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered koanf sources (defaults, YAML, COUPON_* env)
//  2. Database: embedded DuckDB canonical store
//  3. Event bus: in-process Watermill pub/sub for course change events
//  4. Cache: generation-stamped read cache, invalidated by change events
//  5. Crawl pipeline: source adapters, Udemy extractor, upserter
//  6. HTTP server: chi REST API with Prometheus metrics
//
// Everything runs under a suture supervisor tree; the crawl pipeline and
// the API layer restart independently.
//
// # Configuration
//
// Configuration is loaded via koanf v2 with layered sources (highest
// priority wins):
//   - COUPON_* environment variables
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the scheduler
// stops, in-flight crawl cycles finish, the HTTP server drains, and the
// database closes last.
//
// # Example Usage
//
//	export COUPON_DATABASE_PATH=/data/udemycoupons.duckdb
//	export COUPON_SERVER_PORT=8080
//	export COUPON_CRAWL_INTERVAL=4h
//	./udemycoupons
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/huythanh0x/udemycoupons/internal/api"
	"github.com/huythanh0x/udemycoupons/internal/cache"
	"github.com/huythanh0x/udemycoupons/internal/config"
	"github.com/huythanh0x/udemycoupons/internal/crawl"
	"github.com/huythanh0x/udemycoupons/internal/database"
	"github.com/huythanh0x/udemycoupons/internal/eventprocessor"
	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/query"
	"github.com/huythanh0x/udemycoupons/internal/supervisor"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("db_path", cfg.Database.Path).
		Dur("crawl_interval", cfg.Crawl.Interval).
		Bool("enext", cfg.Enext.Enabled).
		Bool("realdiscount", cfg.RealDisc.Enabled).
		Msg("Starting UdemyCoupons")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Event bus and the consumer router. The cache coordinator consumes
	// course change events to invalidate stale entries.
	bus := eventprocessor.NewBus(eventprocessor.NewLoggerAdapter())
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	store := cache.NewStore(cfg.Cache.TTL)
	defer store.Close()
	coordinator := cache.NewCoordinator(store)

	eventRouter, err := eventprocessor.NewRouter(eventprocessor.DefaultRouterConfig(), bus, nil)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event router")
	}
	eventRouter.AddConsumerHandler(
		"cache-invalidator",
		eventprocessor.TopicCourseChanges,
		bus.PubSub(),
		coordinator.HandleChangeEvent,
	)

	// Crawl pipeline: adapters discover coupon URLs, the extractor pulls
	// canonical data from Udemy, the upserter writes and publishes.
	publisher := eventprocessor.NewPublisher(bus.PubSub())
	upserter := crawl.NewUpserter(db, publisher, cfg.Crawl.StoreRetryAttempts)

	var adapters []crawl.Adapter
	if cfg.Enext.Enabled {
		adapters = append(adapters, crawl.NewEnextAdapter(&cfg.Enext, &cfg.Crawl))
	}
	if cfg.RealDisc.Enabled {
		adapters = append(adapters, crawl.NewRealDiscountAdapter(&cfg.RealDisc, &cfg.Crawl))
	}

	extractor := crawl.NewUdemyExtractor(
		crawl.NewBreakerFetcher("udemy", crawl.NewFetcher("udemy", &cfg.Crawl)), "")
	manager := crawl.NewManager(&cfg.Crawl, adapters, extractor, upserter)

	querySvc := query.New(db, coordinator, &cfg.API, cfg.Crawl.NewWithin)
	handler := api.NewHandler(querySvc, manager, version)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(handler, &cfg.API).Setup(),
		ReadHeaderTimeout: cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.NewRouterService(eventRouter))
	tree.AddPipelineService(supervisor.NewCrawlService(manager))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.Timeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Server listening")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop in time")
		}
	}

	logging.Info().Msg("Shutdown complete")
}
