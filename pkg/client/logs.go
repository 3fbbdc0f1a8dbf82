// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogClient opens live log streams.
//
// Access this client through [Client.Logs]:
//
//	stream, err := client.Logs.Stream(ctx, serviceID, nil)
//	defer stream.Close()
//	for {
//	    msg, err := stream.Next()
//	    if err != nil {
//	        break
//	    }
//	    if msg.Type == client.MessageLog {
//	        fmt.Println(msg.Message)
//	    }
//	}
type LogClient struct {
	c *Client
}

// StreamOptions configures a live log stream.
type StreamOptions struct {
	// BufferSize is the server-side scrollback for this viewer: 100, 500,
	// 1000, 2000 or 5000. Zero uses the server default.
	BufferSize int
}

// Stream message types.
const (
	MessageConnected  = "connected"
	MessageLog        = "log"
	MessageHistory    = "history"
	MessageBuffer     = "buffer"
	MessageAutoscroll = "autoscroll"
	MessageClear      = "clear"
	MessageError      = "error"
)

// StreamMessage is a frame received from a log stream. Which fields are set
// depends on Type.
type StreamMessage struct {
	Type string `json:"type"`

	// log
	Message   string    `json:"message,omitempty"`
	Level     string    `json:"level,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// history
	Entries []LogEntry `json:"entries,omitempty"`

	// connected, buffer, autoscroll
	ServiceID  string `json:"serviceId,omitempty"`
	BufferSize int    `json:"bufferSize,omitempty"`
	Size       int    `json:"size,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Autoscroll *bool  `json:"autoscroll,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Entry returns the log entry carried by a log message.
func (m *StreamMessage) Entry() LogEntry {
	return LogEntry{Message: m.Message, Level: m.Level, Timestamp: m.Timestamp}
}

// LogStream is an open WebSocket log stream. Next must be called from a
// single goroutine; the control methods may be called concurrently with it.
type LogStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	// Hello is the server's connected message.
	Hello StreamMessage
}

// Stream connects to a service's live log. The server first replays the
// tail of the log file, then forwards new lines as they are captured.
func (l *LogClient) Stream(ctx context.Context, serviceID string, opts *StreamOptions) (*LogStream, error) {
	u, err := url.Parse(l.c.baseURL + "/ws")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := url.Values{}
	q.Set("serviceId", serviceID)
	if opts != nil && opts.BufferSize > 0 {
		q.Set("buffer", fmt.Sprintf("%d", opts.BufferSize))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set(VersionHeader, l.c.version)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if _, perr := l.c.parseResponse(resp); perr != nil {
				return nil, perr
			}
		}
		return nil, fmt.Errorf("connect log stream: %w", err)
	}

	s := &LogStream{conn: conn}
	if err := conn.ReadJSON(&s.Hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read connected message: %w", err)
	}
	if s.Hello.Type != MessageConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected first message %q", s.Hello.Type)
	}
	return s, nil
}

// Next blocks for the next message. Server pings are answered while
// reading.
func (s *LogStream) Next() (*StreamMessage, error) {
	var msg StreamMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetBuffer asks the server to resize this viewer's scrollback.
func (s *LogStream) SetBuffer(size int) error {
	return s.send(map[string]interface{}{"type": MessageBuffer, "size": size})
}

// SetAutoscroll records the viewer's autoscroll preference.
func (s *LogStream) SetAutoscroll(enabled bool) error {
	return s.send(map[string]interface{}{"type": MessageAutoscroll, "enabled": enabled})
}

// Clear empties this viewer's scrollback. The log file is untouched.
func (s *LogStream) Clear() error {
	return s.send(map[string]interface{}{"type": MessageClear})
}

// RequestHistory asks for the viewer's scrollback; it arrives as a history
// message.
func (s *LogStream) RequestHistory() error {
	return s.send(map[string]interface{}{"type": MessageHistory})
}

func (s *LogStream) send(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the stream.
func (s *LogStream) Close() error {
	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}
