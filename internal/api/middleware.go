// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/huythanh0x/udemycoupons/internal/metrics"
)

// prometheusMetrics records request counts and latency per route pattern.
// The chi route pattern keeps the endpoint label bounded; raw paths would
// blow up cardinality on /courses/{courseID}.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		metrics.APIRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}
