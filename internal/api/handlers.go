// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/huythanh0x/udemycoupons/internal/crawl"
	"github.com/huythanh0x/udemycoupons/internal/logging"
	"github.com/huythanh0x/udemycoupons/internal/models"
	"github.com/huythanh0x/udemycoupons/internal/query"
)

// Handler carries the read and operational dependencies of the HTTP surface.
type Handler struct {
	query   *query.Service
	crawler *crawl.Manager
	version string
}

// NewHandler creates the handler set.
func NewHandler(querySvc *query.Service, crawler *crawl.Manager, version string) *Handler {
	return &Handler{query: querySvc, crawler: crawler, version: version}
}

// ListCourses serves GET /api/v1/courses.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	params, err := listParamsFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
		return
	}

	page, cached, err := h.query.ListActiveCourses(r.Context(), params)
	if errors.Is(err, query.ErrInvalidSort) {
		respondError(w, http.StatusBadRequest, "invalid_sort", err.Error())
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Course listing failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list courses")
		return
	}

	respondJSON(w, http.StatusOK, page, newMetadata(start, cached))
}

// listParamsFromQuery maps query-string values onto list parameters.
// Unknown values fail loudly instead of silently returning default pages.
func listParamsFromQuery(r *http.Request) (query.ListParams, error) {
	q := r.URL.Query()
	params := query.ListParams{
		Category: q.Get("category"),
		Level:    q.Get("level"),
		Language: q.Get("language"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
	}

	var err error
	if params.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return params, err
	}
	if params.PageSize, err = intParam(q.Get("page_size"), "page_size"); err != nil {
		return params, err
	}
	if raw := q.Get("min_rating"); raw != "" {
		rating, err := strconv.ParseFloat(raw, 64)
		if err != nil || rating < 0 || rating > 5 {
			return params, errors.New("min_rating must be a number between 0 and 5")
		}
		params.MinRating = rating
	}
	return params, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// CourseDetail serves GET /api/v1/courses/{courseID}.
func (h *Handler) CourseDetail(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	courseID, err := courseIDFromURL(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_course_id", err.Error())
		return
	}

	course, cached, err := h.query.GetCourseDetail(r.Context(), courseID)
	if errors.Is(err, query.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not_found", "course not found")
		return
	}
	if err != nil {
		logging.Error().Int64("course_id", courseID).Err(err).Msg("Course detail failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load course")
		return
	}

	respondJSON(w, http.StatusOK, course, newMetadata(start, cached))
}

// CourseHistory serves GET /api/v1/courses/{courseID}/history.
func (h *Handler) CourseHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	courseID, err := courseIDFromURL(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_course_id", err.Error())
		return
	}

	history, err := h.query.CourseHistory(r.Context(), courseID, 50)
	if err != nil {
		logging.Error().Int64("course_id", courseID).Err(err).Msg("Course history failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}
	if history == nil {
		history = []models.CouponHistory{}
	}

	respondJSON(w, http.StatusOK, history, newMetadata(start, false))
}

func courseIDFromURL(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "courseID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("course id must be a positive integer")
	}
	return id, nil
}

// CrawlStatus serves GET /api/v1/crawl/status.
func (h *Handler) CrawlStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	respondJSON(w, http.StatusOK, h.crawler.Status(), newMetadata(start, false))
}

// CrawlTrigger serves POST /api/v1/crawl/{source}. The cycle runs in the
// background under the manager's own lifecycle; the response only
// acknowledges the start.
func (h *Handler) CrawlTrigger(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	err := h.crawler.Trigger(source)
	switch {
	case errors.Is(err, crawl.ErrUnknownSource):
		respondError(w, http.StatusNotFound, "unknown_source", err.Error())
	case errors.Is(err, crawl.ErrCycleInFlight):
		respondError(w, http.StatusConflict, "cycle_in_flight", "a crawl cycle for this source is already running")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to trigger crawl")
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"source": source, "state": "started"}, nil)
	}
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status        string                        `json:"status"`
	Version       string                        `json:"version"`
	ActiveCoupons int                           `json:"active_coupons"`
	Sources       map[string]models.CycleReport `json:"sources"`
}

// Health serves GET /health. Degraded means the store is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	count, err := h.query.ActiveCount(r.Context())
	status := "ok"
	code := http.StatusOK
	if err != nil {
		logging.Warn().Err(err).Msg("Health check store query failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthResponse{
		Status:        status,
		Version:       h.version,
		ActiveCoupons: count,
		Sources:       h.crawler.Status(),
	})
}
