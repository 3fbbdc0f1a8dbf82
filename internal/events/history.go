// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// HistoryConfig bounds retained events.
type HistoryConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// History keeps recent events in publish order.
type History struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	maxAge    time.Duration
}

// NewHistory creates a history. Zero values default to 1000 events and one hour.
func NewHistory(cfg HistoryConfig) *History {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 1000
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &History{
		maxEvents: cfg.MaxEvents,
		maxAge:    cfg.MaxAge,
	}
}

// Add stores an event, evicting the oldest past MaxEvents.
func (h *History) Add(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if len(h.events) > h.maxEvents {
		h.events = append([]Event(nil), h.events[len(h.events)-h.maxEvents:]...)
	}
}

// Query returns matching events, oldest first.
func (h *History) Query(filter Filter) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Event, 0)
	for _, e := range h.events {
		if matches(e, filter) {
			result = append(result, e)
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result
}

func matches(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, p := range f.Types {
			if Match(e.Type, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Service != "" && e.Service != f.Service {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Prune drops events older than MaxAge.
func (h *History) Prune() {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-h.maxAge)
	i := 0
	for i < len(h.events) && !h.events[i].Timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		h.events = append([]Event(nil), h.events[i:]...)
	}
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}
