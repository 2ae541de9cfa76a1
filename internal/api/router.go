// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

// Package api provides the HTTP surface: course listings and details for
// consumers, crawl status and triggers for operators.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huythanh0x/udemycoupons/internal/config"
)

// Router assembles the HTTP handler tree.
type Router struct {
	handler *Handler
	cfg     *config.APIConfig
}

// NewRouter creates the router.
func NewRouter(handler *Handler, cfg *config.APIConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup builds the chi handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health and metrics stay outside the rate limit so monitoring never
	// competes with API consumers for budget.
	r.Get("/health", router.handler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))
		r.Use(prometheusMetrics)

		r.Route("/courses", func(r chi.Router) {
			r.Get("/", router.handler.ListCourses)
			r.Get("/{courseID}", router.handler.CourseDetail)
			r.Get("/{courseID}/history", router.handler.CourseHistory)
		})

		r.Route("/crawl", func(r chi.Router) {
			r.Get("/status", router.handler.CrawlStatus)
			r.Post("/{source}", router.handler.CrawlTrigger)
		})
	})

	return r
}
