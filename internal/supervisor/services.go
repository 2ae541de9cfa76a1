// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer matches the *http.Server lifecycle methods the wrapper needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService adapts an HTTP server's blocking ListenAndServe to suture's
// context-aware Serve contract.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an HTTP server as a supervised service.
func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. http.ErrServerClosed is the expected
// outcome of a graceful shutdown and is not treated as a failure.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		// The run context is already cancelled; shutdown needs its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

// CrawlScheduler matches the crawl manager's lifecycle.
type CrawlScheduler interface {
	Start(ctx context.Context)
	Stop()
}

// CrawlService runs the crawl scheduler under supervision.
type CrawlService struct {
	scheduler CrawlScheduler
}

// NewCrawlService wraps the crawl manager as a supervised service.
func NewCrawlService(scheduler CrawlScheduler) *CrawlService {
	return &CrawlService{scheduler: scheduler}
}

// Serve implements suture.Service.
func (s *CrawlService) Serve(ctx context.Context) error {
	s.scheduler.Start(ctx)
	<-ctx.Done()
	s.scheduler.Stop()
	return ctx.Err()
}

func (s *CrawlService) String() string { return "crawl-scheduler" }

// EventRunner matches the change-event router's blocking Run.
type EventRunner interface {
	Run(ctx context.Context) error
}

// RouterService runs the change-event router under supervision.
type RouterService struct {
	runner EventRunner
}

// NewRouterService wraps the event router as a supervised service.
func NewRouterService(runner EventRunner) *RouterService {
	return &RouterService{runner: runner}
}

// Serve implements suture.Service.
func (s *RouterService) Serve(ctx context.Context) error {
	if err := s.runner.Run(ctx); err != nil {
		return fmt.Errorf("event router failed: %w", err)
	}
	return ctx.Err()
}

func (s *RouterService) String() string { return "event-router" }
