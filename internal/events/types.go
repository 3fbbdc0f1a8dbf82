// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events records lifecycle transitions and delivers them to
// subscribers.
package events

import (
	"context"
	"time"
)

// Event is an immutable record of something that happened to a service or
// group.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service,omitempty"` // service or group id
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler processes a delivered event.
type Handler func(ctx context.Context, event Event) error

// SubscriptionID identifies a subscription.
type SubscriptionID string

// Filter selects events from history.
type Filter struct {
	Types   []string // patterns, see Match
	Service string
	Since   time.Time
	Until   time.Time
	Limit   int // newest N after filtering
}

// Bus publishes events to subscribers and keeps a bounded history.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler Handler) (SubscriptionID, error)
	SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	History(filter Filter) ([]Event, error)
	Close() error
}

// Lifecycle event types.
const (
	ServiceStarting    = "service.starting"
	ServiceStarted     = "service.started"
	ServiceStartFailed = "service.start_failed"
	ServiceStopping    = "service.stopping"
	ServiceStopped     = "service.stopped"
	ServiceStopFailed  = "service.stop_failed"
	ServiceExited      = "service.exited"

	GroupStarted = "group.started"
	GroupStopped = "group.stopped"
)
