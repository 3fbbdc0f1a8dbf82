// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"sync"
	"sync/atomic"

	"github.com/wingedpig/servicedeck/internal/logs"
)

// Viewer is one subscription to a service's log stream.
type Viewer struct {
	serviceID string
	ch        Channel
	session   *Session

	once sync.Once
	done chan struct{}
}

// ServiceID returns the service the viewer watches.
func (v *Viewer) ServiceID() string { return v.serviceID }

// Session returns the viewer's buffer and display settings.
func (v *Viewer) Session() *Session { return v.session }

// Done is closed once the viewer has left the hub, for any reason.
func (v *Viewer) Done() <-chan struct{} { return v.done }

// Session is the per-viewer state: a ring of recent entries and whether the
// viewer follows new output.
type Session struct {
	buf        *logs.Buffer
	autoscroll atomic.Bool
}

func newSession(size int) *Session {
	s := &Session{buf: logs.NewBuffer(size)}
	s.autoscroll.Store(true)
	return s
}

// Entries returns the buffered entries, oldest first.
func (s *Session) Entries() []logs.Entry { return s.buf.Get(0) }

// BufferSize returns the ring capacity.
func (s *Session) BufferSize() int { return s.buf.Capacity() }

// SetBufferSize resizes the ring. Only logs.AllowedBufferSizes are accepted.
func (s *Session) SetBufferSize(n int) error { return s.buf.Resize(n) }

// Clear empties the ring.
func (s *Session) Clear() { s.buf.Clear() }

// Autoscroll reports whether the viewer follows new output.
func (s *Session) Autoscroll() bool { return s.autoscroll.Load() }

// SetAutoscroll toggles following.
func (s *Session) SetAutoscroll(on bool) { s.autoscroll.Store(on) }

func (s *Session) release() { s.buf.Clear() }
