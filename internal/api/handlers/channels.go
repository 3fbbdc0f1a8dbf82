// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"sync/atomic"

	"github.com/wingedpig/servicedeck/internal/hub"
	"github.com/wingedpig/servicedeck/internal/logs"
)

var errNoPong = errors.New("viewer did not answer ping")

// sseChannel queues entries for an SSE writer loop. Liveness is the write
// itself: a gone client fails the next write and the loop unsubscribes.
type sseChannel struct {
	queue *hub.Queue
}

func newSSEChannel(size int) *sseChannel {
	return &sseChannel{queue: hub.NewQueue(size)}
}

func (c *sseChannel) Send(e logs.Entry) error { return c.queue.Push(e) }

func (c *sseChannel) Ping() error {
	select {
	case <-c.queue.Done():
		return hub.ErrQueueClosed
	default:
		return nil
	}
}

func (c *sseChannel) Close() error {
	c.queue.Close()
	return nil
}

// wsChannel queues entries and pings for a WebSocket writer loop. A ping
// that finds the previous one unanswered fails, and the hub drops the viewer.
type wsChannel struct {
	queue *hub.Queue
	pings chan struct{}
	alive atomic.Bool
}

func newWSChannel(size int) *wsChannel {
	c := &wsChannel{
		queue: hub.NewQueue(size),
		pings: make(chan struct{}, 1),
	}
	c.alive.Store(true)
	return c
}

func (c *wsChannel) Send(e logs.Entry) error { return c.queue.Push(e) }

func (c *wsChannel) Ping() error {
	if !c.alive.Swap(false) {
		return errNoPong
	}
	select {
	case <-c.queue.Done():
		return hub.ErrQueueClosed
	case c.pings <- struct{}{}:
	default:
	}
	return nil
}

// pong marks the viewer alive until the next ping.
func (c *wsChannel) pong() { c.alive.Store(true) }

func (c *wsChannel) Close() error {
	c.queue.Close()
	return nil
}
