// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package eventprocessor

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/huythanh0x/udemycoupons/internal/metrics"
)

// RouterConfig holds configuration for the event router.
type RouterConfig struct {
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	PoisonTopic string
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         15 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		RetryMultiplier:      2.0,
		PoisonTopic:          TopicPoison,
	}
}

// Router wraps the Watermill router with recovery, retry and poison-queue
// middleware. Handlers that keep failing after retries have their message
// shunted to the poison topic so one bad event cannot wedge the stream.
type Router struct {
	router *message.Router
}

// NewRouter builds the router over the given bus.
func NewRouter(cfg RouterConfig, bus *Bus, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = NewLoggerAdapter()
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(bus.PubSub(), cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("failed to create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(func(h message.HandlerFunc) message.HandlerFunc {
			inner := poison(h)
			return func(msg *message.Message) ([]*message.Message, error) {
				out, err := inner(msg)
				if err == nil && msg.Metadata.Get(middleware.ReasonForPoisonedKey) != "" {
					metrics.EventsPoisoned.Inc()
				}
				return out, err
			}
		})
	}

	return &Router{router: wmRouter}, nil
}

// AddConsumerHandler registers a no-output handler on a topic.
func (r *Router) AddConsumerHandler(name, topic string, sub message.Subscriber, handler message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, sub, handler)
}

// Run blocks until the context is cancelled or the router fails.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel closed once all handlers are subscribed.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close shuts the router down, waiting up to CloseTimeout for handlers.
func (r *Router) Close() error {
	return r.router.Close()
}
