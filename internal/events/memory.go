// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"vawter.tech/stopper"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing with an unknown id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// MemoryBusConfig configures the memory event bus.
type MemoryBusConfig struct {
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
}

// MemoryBus is an in-process Bus.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	history       *History
	closed        atomic.Bool
	sctx          *stopper.Context
}

type subscription struct {
	pattern string
	handler Handler
	ch      chan Event    // nil for synchronous subscribers
	stop    chan struct{} // closed on unsubscribe
}

// NewMemoryBus creates a bus and starts its history pruner.
func NewMemoryBus(cfg MemoryBusConfig) *MemoryBus {
	bus := &MemoryBus{
		subscriptions: make(map[SubscriptionID]*subscription),
		history: NewHistory(HistoryConfig{
			MaxEvents: cfg.HistoryMaxEvents,
			MaxAge:    cfg.HistoryMaxAge,
		}),
		sctx: stopper.WithContext(context.Background()),
	}

	pruneInterval := bus.history.maxAge / 10
	if pruneInterval < time.Minute {
		pruneInterval = time.Minute
	}
	bus.sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
				bus.history.Prune()
			}
		}
	})
	return bus
}

// Publish records the event and delivers it to matching subscribers.
// Synchronous handlers run inline; async ones drop the event when their
// buffer is full.
func (bus *MemoryBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	bus.history.Add(event)

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subscriptions))
	for _, sub := range bus.subscriptions {
		if Match(event.Type, sub.pattern) {
			subs = append(subs, sub)
		}
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if sub.ch != nil {
			select {
			case sub.ch <- event:
			default:
				log.Printf("EventBus: dropped %s - async subscriber buffer full", event.Type)
			}
			continue
		}
		runHandler(ctx, sub.handler, event)
	}
	return nil
}

func runHandler(ctx context.Context, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("EventBus: handler panic for %s: %v", event.Type, r)
		}
	}()
	if err := h(ctx, event); err != nil {
		log.Printf("EventBus: handler for %s: %v", event.Type, err)
	}
}

// Subscribe registers a handler run inline by Publish.
func (bus *MemoryBus) Subscribe(pattern string, handler Handler) (SubscriptionID, error) {
	return bus.add(pattern, &subscription{pattern: pattern, handler: handler})
}

// SubscribeAsync registers a handler run on its own goroutine, fed by a
// buffered channel.
func (bus *MemoryBus) SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error) {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	sub := &subscription{
		pattern: pattern,
		handler: handler,
		ch:      make(chan Event, bufferSize),
		stop:    make(chan struct{}),
	}
	id, err := bus.add(pattern, sub)
	if err != nil {
		return "", err
	}
	bus.sctx.Go(func(sctx *stopper.Context) error {
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-sub.stop:
				return nil
			case event := <-sub.ch:
				runHandler(sctx, handler, event)
			}
		}
	})
	return id, nil
}

func (bus *MemoryBus) add(pattern string, sub *subscription) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	if err := ValidatePattern(pattern); err != nil {
		return "", err
	}
	id := SubscriptionID(uuid.NewString())
	bus.mu.Lock()
	bus.subscriptions[id] = sub
	bus.mu.Unlock()
	return id, nil
}

// Unsubscribe removes a subscription.
func (bus *MemoryBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	sub, ok := bus.subscriptions[id]
	delete(bus.subscriptions, id)
	bus.mu.Unlock()
	if !ok {
		return ErrSubscriptionNotFound
	}
	if sub.stop != nil {
		close(sub.stop)
	}
	return nil
}

// History returns past events matching filter.
func (bus *MemoryBus) History(filter Filter) ([]Event, error) {
	return bus.history.Query(filter), nil
}

// Close stops the pruner and all async subscribers.
func (bus *MemoryBus) Close() error {
	if bus.closed.Swap(true) {
		return nil
	}
	bus.mu.Lock()
	bus.subscriptions = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()

	bus.sctx.Stop(time.Second)
	return bus.sctx.Wait()
}
