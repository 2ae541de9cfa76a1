// UdemyCoupons - Udemy Coupon Aggregation and Serving
// Copyright 2026 Thanh Vu (huythanh0x)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huythanh0x/udemycoupons

package eventprocessor

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Bus is the in-process pub/sub the pipeline and the cache coordinator
// share. A GoChannel pub/sub is enough for a single-process deployment;
// the Publisher/Subscriber interfaces keep a broker swap possible without
// touching producers or consumers.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the in-process pub/sub.
func NewBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = NewLoggerAdapter()
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				// Buffer absorbs bursts at the end of a crawl cycle so
				// upserts never block on the cache coordinator.
				OutputChannelBuffer: 256,
				Persistent:          false,
			},
			logger,
		),
	}
}

// PubSub exposes the underlying GoChannel for router wiring.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}

// Close shuts the pub/sub down; in-flight messages are dropped.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
