// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/metrics"
)

// ErrNoSubscribers is returned by TryPublish when nobody listens on a topic.
var ErrNoSubscribers = errors.New("no subscribers")

// ErrFull is returned by TryPublish when a subscriber buffer is full.
var ErrFull = errors.New("subscriber buffer full")

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// MemoryBus is a non-durable in-memory pub/sub.
type MemoryBus[T any] struct {
	mu     sync.RWMutex
	subs   map[string][]*memSub[T]
	buffer int
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// NewMemoryBus creates a bus whose subscribers buffer up to buffer messages.
func NewMemoryBus[T any](buffer int) *MemoryBus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus[T]{subs: make(map[string][]*memSub[T]), buffer: buffer}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.BusDropTimeout
	case errors.Is(err, context.Canceled):
		return metrics.BusDropCanceled
	default:
		return metrics.BusDropUnknown
	}
}

func recordDrop(topic, reason string) {
	metrics.IncBusDropReason(topic, reason)
	if count := dropCount.Add(1); count%dropLogEvery == 0 {
		log.L().Warn().
			Str("topic", topic).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("memory bus dropped messages")
	}
}

func (b *MemoryBus[T]) snapshot(topic string) []*memSub[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*memSub[T](nil), b.subs[topic]...)
}

// Publish blocks until every subscriber accepted msg or ctx is done.
func (b *MemoryBus[T]) Publish(ctx context.Context, topic string, msg T) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	for _, s := range b.snapshot(topic) {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			recordDrop(topic, publishDropReason(ctx.Err()))
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	metrics.IncBusPublished(topic)
	return nil
}

// TryPublish never blocks; it fails with ErrFull when a buffer is full.
func (b *MemoryBus[T]) TryPublish(topic string, msg T) error {
	subs := b.snapshot(topic)
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	for _, s := range subs {
		select {
		case s.ch <- msg:
		case <-s.done:
		default:
			recordDrop(topic, metrics.BusDropFull)
			return fmt.Errorf("publish topic %q: %w", topic, ErrFull)
		}
	}
	metrics.IncBusPublished(topic)
	return nil
}

func (b *MemoryBus[T]) Subscribe(ctx context.Context, topic string) (Subscriber[T], error) {
	s := &memSub[T]{
		b:     b,
		topic: topic,
		ch:    make(chan T, b.buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	return s, nil
}

type memSub[T any] struct {
	b     *MemoryBus[T]
	topic string
	ch    chan T
	done  chan struct{}
	once  sync.Once
}

func (s *memSub[T]) C() <-chan T              { return s.ch }
func (s *memSub[T]) Done() <-chan struct{} { return s.done }

func (s *memSub[T]) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		lst := s.b.subs[s.topic]
		out := lst[:0]
		for _, c := range lst {
			if c != s {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, s.topic)
		} else {
			s.b.subs[s.topic] = out
		}
		s.b.mu.Unlock()
		close(s.done)
	})
	return nil
}

var _ Bus[int] = (*MemoryBus[int])(nil)
