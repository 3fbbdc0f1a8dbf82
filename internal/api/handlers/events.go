// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wingedpig/servicedeck/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventQueueSize bounds the events held for a slow stream client. Events
// beyond it are dropped for that client only.
const eventQueueSize = 100

// EventHandler serves lifecycle event history and a live event stream.
type EventHandler struct {
	bus       events.Bus
	keepAlive time.Duration
}

// NewEventHandler creates a new event handler. The stream pings clients
// every 30s.
func NewEventHandler(bus events.Bus) *EventHandler {
	return &EventHandler{bus: bus, keepAlive: 30 * time.Second}
}

// parseEventFilter reads type, service, since, until and limit.
func parseEventFilter(query url.Values) (events.Filter, error) {
	filter := events.Filter{
		Types:   query["type"],
		Service: query.Get("service"),
	}
	for _, p := range filter.Types {
		if err := events.ValidatePattern(p); err != nil {
			return filter, err
		}
	}
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	for _, bound := range []struct {
		name string
		dst  *time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		s := query.Get(bound.name)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, fmt.Errorf("%s must be an RFC 3339 timestamp", bound.name)
		}
		*bound.dst = t
	}
	return filter, nil
}

// History returns recorded events, oldest first.
func (h *EventHandler) History(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r.URL.Query())
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	eventList, err := h.bus.History(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	writeVersioned(w, r, "events.list", http.StatusOK, eventList)
}

// WebSocket streams live events matching ?pattern= (default all), optionally
// restricted to one service or group with ?service=.
func (h *EventHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	if err := events.ValidatePattern(pattern); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	service := r.URL.Query().Get("service")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	eventCh := make(chan events.Event, eventQueueSize)
	done := make(chan struct{})

	subID, err := h.bus.SubscribeAsync(pattern, func(_ context.Context, event events.Event) error {
		if service != "" && event.Service != service {
			return nil
		}
		select {
		case eventCh <- event:
		case <-done:
		default:
		}
		return nil
	}, eventQueueSize)
	if err != nil {
		write(map[string]string{"type": "error", "error": err.Error()})
		return
	}
	defer h.bus.Unsubscribe(subID)

	if err := write(map[string]string{"type": "connected", "pattern": pattern, "service": service}); err != nil {
		return
	}

	deadline := 2 * h.keepAlive
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case event := <-eventCh:
			if err := write(event); err != nil {
				return
			}
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
