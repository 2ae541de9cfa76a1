// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/models"
)

// respondJSON writes a success envelope.
func respondJSON(w http.ResponseWriter, status int, data interface{}, meta *models.Metadata) {
	resp := models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: meta,
	}
	writeJSON(w, status, resp)
}

// respondError writes an error envelope.
func respondError(w http.ResponseWriter, status int, code, message string) {
	resp := models.APIResponse{
		Status: "error",
		Error:  &models.APIError{Code: code, Message: message},
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

// newMetadata stamps the per-request metadata block.
func newMetadata(start time.Time, cached bool) *models.Metadata {
	return &models.Metadata{
		Timestamp:   time.Now().UTC(),
		QueryTimeMS: time.Since(start).Milliseconds(),
		Cached:      cached,
	}
}
