// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package logs

import (
	"fmt"
	"sync"
)

// AllowedBufferSizes are the capacities a viewer may choose.
var AllowedBufferSizes = []int{100, 500, 1000, 2000, 5000}

// DefaultBufferSize is used when a viewer does not ask for a size.
const DefaultBufferSize = 1000

// ValidBufferSize reports whether n is one of AllowedBufferSizes.
func ValidBufferSize(n int) bool {
	for _, s := range AllowedBufferSizes {
		if s == n {
			return true
		}
	}
	return false
}

// Buffer is a thread-safe ring buffer of entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	head     int // next write position
	size     int
	capacity int
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(entry)
}

func (b *Buffer) addLocked(entry Entry) {
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Get returns up to limit of the newest entries, oldest first. A limit of 0
// returns everything.
func (b *Buffer) Get(limit int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getLocked(limit)
}

func (b *Buffer) getLocked(limit int) []Entry {
	count := b.size
	if limit > 0 && limit < count {
		count = limit
	}
	result := make([]Entry, count)
	start := (b.head - count + b.capacity) % b.capacity
	for i := 0; i < count; i++ {
		result[i] = b.entries[(start+i)%b.capacity]
	}
	return result
}

// Resize changes the capacity, keeping the newest entries that still fit.
func (b *Buffer) Resize(capacity int) error {
	if !ValidBufferSize(capacity) {
		return fmt.Errorf("buffer size %d not allowed (allowed: %v)", capacity, AllowedBufferSizes)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if capacity == b.capacity {
		return nil
	}
	kept := b.getLocked(capacity)
	b.entries = make([]Entry, capacity)
	b.capacity = capacity
	b.head = 0
	b.size = 0
	for _, e := range kept {
		b.addLocked(e)
	}
	return nil
}

// Clear removes all entries.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
	for i := range b.entries {
		b.entries[i] = Entry{}
	}
}

// Size returns the current number of entries.
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the maximum number of entries.
func (b *Buffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}
