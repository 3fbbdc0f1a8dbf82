// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/hub"
	"github.com/wingedpig/servicedeck/internal/logs"
)

// LogStreamConfig configures live log transports.
type LogStreamConfig struct {
	QueueSize int           // entries buffered per viewer connection
	Backfill  bool          // seed new viewers from the log file tail
	KeepAlive time.Duration // SSE comment interval
}

// LogStreamHandler serves live service logs over SSE and WebSocket.
type LogStreamHandler struct {
	store catalog.Store
	hub   *hub.Hub
	cfg   LogStreamConfig
}

// NewLogStreamHandler creates a new log stream handler.
func NewLogStreamHandler(store catalog.Store, h *hub.Hub, cfg LogStreamConfig) *LogStreamHandler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &LogStreamHandler{store: store, hub: h, cfg: cfg}
}

// logMessage is the wire form of a live entry on the WebSocket.
type logMessage struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Level     logs.Level `json:"level"`
	Timestamp time.Time  `json:"timestamp"`
}

func toLogMessage(e logs.Entry) logMessage {
	return logMessage{Type: "log", Message: e.Message, Level: e.Level, Timestamp: e.Timestamp}
}

// clientMessage is a session control request from a WebSocket viewer.
type clientMessage struct {
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Enabled *bool  `json:"enabled"`
}

// parseBuffer reads ?buffer=; zero means the hub default.
func parseBuffer(r *http.Request) (int, error) {
	s := r.URL.Query().Get("buffer")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !logs.ValidBufferSize(n) {
		return 0, fmt.Errorf("buffer must be one of %v", logs.AllowedBufferSizes)
	}
	return n, nil
}

// prepare resolves the service and the subscription options.
func (h *LogStreamHandler) prepare(w http.ResponseWriter, r *http.Request, id string) (catalog.Service, hub.SubscribeOptions, bool) {
	if id == "" {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "serviceId is required")
		return catalog.Service{}, hub.SubscribeOptions{}, false
	}
	size, err := parseBuffer(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return catalog.Service{}, hub.SubscribeOptions{}, false
	}
	svc, err := h.store.GetService(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return catalog.Service{}, hub.SubscribeOptions{}, false
	}

	opts := hub.SubscribeOptions{BufferSize: size}
	if h.cfg.Backfill {
		n := size
		if n == 0 {
			n = logs.DefaultBufferSize
		}
		entries, err := logs.TailEntries(svc.LogPath(), n)
		if err != nil {
			log.Printf("Log stream %s: backfill: %v", svc.Name, err)
		}
		opts.Backfill = entries
	}
	return svc, opts, true
}

// StreamSSE streams a service's log via Server-Sent Events.
func (h *LogStreamHandler) StreamSSE(w http.ResponseWriter, r *http.Request) {
	svc, opts, ok := h.prepare(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, "streaming not supported")
		return
	}

	ch := newSSEChannel(h.cfg.QueueSize + len(opts.Backfill))
	viewer, err := h.hub.Subscribe(svc.ID, ch, opts)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, ErrServiceError, err.Error())
		return
	}
	defer h.hub.Unsubscribe(viewer)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Send initial connection event
	fmt.Fprintf(w, "event: connected\ndata: {\"service\":%q,\"bufferSize\":%d}\n\n", svc.ID, viewer.Session().BufferSize())
	flusher.Flush()

	// Set up keepalive ticker
	ticker := time.NewTicker(h.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-viewer.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case entry := <-ch.queue.C():
			data, _ := json.Marshal(entry)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// WebSocket streams a service's log at /ws?serviceId=<id>. Clients may send
// buffer, autoscroll, clear and history control messages.
func (h *LogStreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	svc, opts, ok := h.prepare(w, r, r.URL.Query().Get("serviceId"))
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := newWSChannel(h.cfg.QueueSize + len(opts.Backfill))
	viewer, err := h.hub.Subscribe(svc.ID, ch, opts)
	if err != nil {
		conn.WriteJSON(map[string]string{"type": "error", "error": err.Error()})
		return
	}
	defer h.hub.Unsubscribe(viewer)
	session := viewer.Session()

	// Mutex for WebSocket writes
	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	conn.SetPongHandler(func(string) error {
		ch.pong()
		return nil
	})

	if err := write(map[string]interface{}{
		"type":       "connected",
		"serviceId":  svc.ID,
		"bufferSize": session.BufferSize(),
		"autoscroll": session.Autoscroll(),
	}); err != nil {
		return
	}

	// Read goroutine for client messages and disconnect detection
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					log.Printf("Log stream %s: read error: %v", svc.Name, err)
				}
				return
			}
			var cm clientMessage
			if err := json.Unmarshal(msg, &cm); err != nil {
				continue
			}
			if err := h.control(session, cm, write); err != nil {
				return
			}
		}
	}()

	// Main loop - stream entries to client
	for {
		select {
		case entry := <-ch.queue.C():
			if err := write(toLogMessage(entry)); err != nil {
				return
			}
		case <-ch.pings:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-viewer.Done():
			// Dropped by the hub (liveness, overflow or shutdown).
			writeMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "viewer closed"),
				time.Now().Add(time.Second))
			writeMu.Unlock()
			return
		case <-done:
			return
		}
	}
}

// control applies a client session message and writes the reply.
func (h *LogStreamHandler) control(session *hub.Session, cm clientMessage, write func(interface{}) error) error {
	switch cm.Type {
	case "buffer":
		if err := session.SetBufferSize(cm.Size); err != nil {
			return write(map[string]string{"type": "error", "error": err.Error()})
		}
		return write(map[string]interface{}{"type": "buffer", "size": session.BufferSize()})
	case "autoscroll":
		if cm.Enabled == nil {
			return write(map[string]string{"type": "error", "error": "autoscroll requires enabled"})
		}
		session.SetAutoscroll(*cm.Enabled)
		return write(map[string]interface{}{"type": "autoscroll", "enabled": session.Autoscroll()})
	case "clear":
		session.Clear()
		return write(map[string]interface{}{"type": "clear"})
	case "history":
		entries := session.Entries()
		msgs := make([]logMessage, 0, len(entries))
		for _, e := range entries {
			msgs = append(msgs, toLogMessage(e))
		}
		return write(map[string]interface{}{"type": "history", "entries": msgs})
	default:
		return write(map[string]string{"type": "error", "error": fmt.Sprintf("unknown message type %q", cm.Type)})
	}
}
