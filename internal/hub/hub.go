// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hub fans log entries out to the viewers connected to each service.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/metrics"
	"vawter.tech/stopper"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

// Channel is a live delivery transport for one viewer.
//
// Send and Ping must not block on the network: implementations queue the
// work and report an error when the viewer cannot keep up or is gone.
type Channel interface {
	Send(entry logs.Entry) error
	// Ping returns an error if the viewer did not answer the previous ping.
	Ping() error
	Close() error
}

// Config configures a hub.
type Config struct {
	PingInterval  time.Duration
	DefaultBuffer int
}

// Hub keeps, per service id, the set of subscribed viewers.
type Hub struct {
	cfg     Config
	metrics *metrics.Metrics

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool

	sctx *stopper.Context
}

type room struct {
	mu      sync.Mutex
	viewers map[*Viewer]struct{}
}

// New creates a hub and starts its liveness loop. The loop stops when ctx is
// cancelled or Close is called.
func New(ctx context.Context, cfg Config, m *metrics.Metrics) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if !logs.ValidBufferSize(cfg.DefaultBuffer) {
		cfg.DefaultBuffer = logs.DefaultBufferSize
	}
	h := &Hub{
		cfg:     cfg,
		metrics: m,
		rooms:   make(map[string]*room),
		sctx:    stopper.WithContext(ctx),
	}
	h.sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
				h.checkLiveness()
			}
		}
	})
	return h
}

// SubscribeOptions tunes a new subscription.
type SubscribeOptions struct {
	// BufferSize is the viewer's ring capacity; zero uses the hub default.
	BufferSize int
	// Backfill entries are added to the viewer's buffer and sent before any
	// live entry.
	Backfill []logs.Entry
}

// Subscribe adds a viewer for serviceID delivering through ch.
func (h *Hub) Subscribe(serviceID string, ch Channel, opts SubscribeOptions) (*Viewer, error) {
	size := opts.BufferSize
	if size == 0 {
		size = h.cfg.DefaultBuffer
	}
	if !logs.ValidBufferSize(size) {
		return nil, fmt.Errorf("buffer size %d not allowed (allowed: %v)", size, logs.AllowedBufferSizes)
	}

	v := &Viewer{
		serviceID: serviceID,
		ch:        ch,
		session:   newSession(size),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	r, ok := h.rooms[serviceID]
	if !ok {
		r = &room{viewers: make(map[*Viewer]struct{})}
		h.rooms[serviceID] = r
	}
	r.mu.Lock()
	h.mu.Unlock()

	for _, e := range opts.Backfill {
		v.session.buf.Add(e)
		if err := ch.Send(e); err != nil {
			break
		}
	}
	r.viewers[v] = struct{}{}
	r.mu.Unlock()

	h.metrics.ViewerAdded()
	return v, nil
}

// Publish delivers entry to every viewer of serviceID. A viewer whose
// channel rejects the entry is dropped; the others are unaffected. All
// viewers of a service observe entries in the same order.
func (h *Hub) Publish(serviceID string, entry logs.Entry) {
	h.mu.Lock()
	r := h.rooms[serviceID]
	h.mu.Unlock()
	if r == nil {
		return
	}

	var failed []*Viewer
	r.mu.Lock()
	for v := range r.viewers {
		v.session.buf.Add(entry)
		if err := v.ch.Send(entry); err != nil {
			failed = append(failed, v)
		}
	}
	r.mu.Unlock()

	for _, v := range failed {
		h.remove(v, "send_failed")
	}
}

// Unsubscribe removes a viewer and closes its channel. It is safe to call
// more than once.
func (h *Hub) Unsubscribe(v *Viewer) {
	h.remove(v, "closed")
}

func (h *Hub) remove(v *Viewer, reason string) {
	removed := false
	v.once.Do(func() {
		h.mu.Lock()
		if r, ok := h.rooms[v.serviceID]; ok {
			r.mu.Lock()
			delete(r.viewers, v)
			if len(r.viewers) == 0 {
				delete(h.rooms, v.serviceID)
			}
			r.mu.Unlock()
		}
		h.mu.Unlock()
		removed = true
	})
	if !removed {
		return
	}

	if reason != "closed" {
		log.Printf("Hub: dropping viewer of %s (%s)", v.serviceID, reason)
	}
	close(v.done)
	v.session.release()
	_ = v.ch.Close()
	h.metrics.ViewerRemoved(reason)
}

// checkLiveness pings every viewer and drops those that fail.
func (h *Hub) checkLiveness() {
	var failed []*Viewer
	for _, v := range h.snapshot() {
		if err := v.ch.Ping(); err != nil {
			failed = append(failed, v)
		}
	}
	for _, v := range failed {
		h.remove(v, "liveness")
	}
}

func (h *Hub) snapshot() []*Viewer {
	h.mu.Lock()
	defer h.mu.Unlock()
	var all []*Viewer
	for _, r := range h.rooms {
		r.mu.Lock()
		for v := range r.viewers {
			all = append(all, v)
		}
		r.mu.Unlock()
	}
	return all
}

// Count returns the number of viewers subscribed to serviceID.
func (h *Hub) Count(serviceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[serviceID]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Services returns the ids that currently have at least one viewer.
func (h *Hub) Services() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Close stops the liveness loop and closes every viewer.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.sctx.Stop(time.Second)
	err := h.sctx.Wait()

	for _, v := range h.snapshot() {
		h.remove(v, "shutdown")
	}
	return err
}
