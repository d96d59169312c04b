// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus is an in-process pub/sub used as the inbound message queue.
package bus

import "context"

// Bus publishes messages of type T to topic subscribers.
type Bus[T any] interface {
	Publish(ctx context.Context, topic string, msg T) error
	Subscribe(ctx context.Context, topic string) (Subscriber[T], error)
}

// Subscriber receives messages until closed. C is never closed; consumers
// select on Done or their own context.
type Subscriber[T any] interface {
	C() <-chan T
	Done() <-chan struct{}
	Close() error
}
