// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		eventType, pattern string
		want               bool
	}{
		{"service.started", "service.started", true},
		{"service.started", "service.*", true},
		{"service.start_failed", "service.*", true},
		{"group.started", "service.*", false},
		{"service.stopped", "*.stopped", true},
		{"group.stopped", "*.stopped", true},
		{"service.stop_failed", "*.stopped", false},
		{"anything", "*", true},
		{"service.started", "", false},
		{"", "*", false},
		{"services.started", "service.*", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.eventType, tt.pattern), "Match(%q, %q)", tt.eventType, tt.pattern)
	}
}

func TestValidatePattern(t *testing.T) {
	assert.NoError(t, ValidatePattern("*"))
	assert.NoError(t, ValidatePattern("service.*"))
	assert.NoError(t, ValidatePattern("*.stopped"))
	assert.Error(t, ValidatePattern(""))
	assert.Error(t, ValidatePattern("ser*ice.started"))
}

func TestMemoryBus_PublishAssignsIDAndTime(t *testing.T) {
	bus := NewMemoryBus(MemoryBusConfig{})
	defer bus.Close()

	var got Event
	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: ServiceStarted, Service: "api"}))
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "api", got.Service)
}

func TestMemoryBus_PatternRouting(t *testing.T) {
	bus := NewMemoryBus(MemoryBusConfig{})
	defer bus.Close()

	var services, groups atomic.Int32
	_, err := bus.Subscribe("service.*", func(ctx context.Context, e Event) error {
		services.Add(1)
		return nil
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("group.*", func(ctx context.Context, e Event) error {
		groups.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Event{Type: ServiceStarting}))
	require.NoError(t, bus.Publish(ctx, Event{Type: ServiceStarted}))
	require.NoError(t, bus.Publish(ctx, Event{Type: GroupStarted}))

	assert.Equal(t, int32(2), services.Load())
	assert.Equal(t, int32(1), groups.Load())
}

func TestMemoryBus_AsyncAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(MemoryBusConfig{})
	defer bus.Close()

	received := make(chan Event, 10)
	id, err := bus.SubscribeAsync("service.stopped", func(ctx context.Context, e Event) error {
		received <- e
		return nil
	}, 10)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: ServiceStopped, Service: "a"}))
	select {
	case e := <-received:
		assert.Equal(t, "a", e.Service)
	case <-time.After(time.Second):
		t.Fatal("async handler not called")
	}

	require.NoError(t, bus.Unsubscribe(id))
	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriptionNotFound)

	require.NoError(t, bus.Publish(context.Background(), Event{Type: ServiceStopped, Service: "b"}))
	select {
	case e := <-received:
		t.Fatalf("received %v after unsubscribe", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBus_HandlerPanicRecovered(t *testing.T) {
	bus := NewMemoryBus(MemoryBusConfig{})
	defer bus.Close()

	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		_ = bus.Publish(context.Background(), Event{Type: ServiceStarted})
	})
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(MemoryBusConfig{})
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), Event{Type: ServiceStarted}), ErrBusClosed)
	_, err := bus.Subscribe("*", func(ctx context.Context, e Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestHistory_FilterAndLimit(t *testing.T) {
	bus := NewMemoryBus(MemoryBusConfig{HistoryMaxEvents: 5})
	defer bus.Close()

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		svc := "a"
		if i%2 == 1 {
			svc = "b"
		}
		require.NoError(t, bus.Publish(ctx, Event{Type: ServiceStarted, Service: svc, Payload: map[string]any{"n": i}}))
	}

	all, err := bus.History(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 3, all[0].Payload["n"])

	onlyB, err := bus.History(Filter{Service: "b"})
	require.NoError(t, err)
	for _, e := range onlyB {
		assert.Equal(t, "b", e.Service)
	}

	last, err := bus.History(Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 7, last[1].Payload["n"])

	none, err := bus.History(Filter{Types: []string{"group.*"}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistory_Prune(t *testing.T) {
	h := NewHistory(HistoryConfig{MaxAge: time.Minute})
	h.Add(Event{Type: ServiceStarted, Timestamp: time.Now().Add(-2 * time.Minute)})
	h.Add(Event{Type: ServiceStopped, Timestamp: time.Now()})

	h.Prune()
	require.Equal(t, 1, h.Len())
	assert.Equal(t, ServiceStopped, h.Query(Filter{})[0].Type)

	since := h.Query(Filter{Since: time.Now().Add(time.Hour)})
	assert.Empty(t, since, fmt.Sprintf("got %v", since))
}
