// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"errors"
	"sync"

	"github.com/wingedpig/servicedeck/internal/logs"
)

var (
	// ErrQueueFull means the viewer fell too far behind.
	ErrQueueFull = errors.New("viewer queue full")
	// ErrQueueClosed means the viewer is gone.
	ErrQueueClosed = errors.New("viewer queue closed")
)

// Queue is a bounded FIFO between Publish and a transport's writer
// goroutine. Push never blocks.
type Queue struct {
	ch   chan logs.Entry
	done chan struct{}
	once sync.Once
}

// NewQueue creates a queue holding up to size entries.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		ch:   make(chan logs.Entry, size),
		done: make(chan struct{}),
	}
}

// Push enqueues an entry.
func (q *Queue) Push(e logs.Entry) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// C is the receive side for the writer goroutine.
func (q *Queue) C() <-chan logs.Entry { return q.ch }

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Close marks the queue closed. Entries already queued stay readable.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
