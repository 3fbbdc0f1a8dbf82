// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wingedpig/servicedeck/internal/logs"
)

// fakeChannel records entries and can be told to fail.
type fakeChannel struct {
	mu       sync.Mutex
	entries  []logs.Entry
	sendErr  error
	pingErr  error
	pings    int
	closed   bool
	closeCnt int
}

func (c *fakeChannel) Send(e logs.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.entries = append(c.entries, e)
	return nil
}

func (c *fakeChannel) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCnt++
	return nil
}

func (c *fakeChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Message
	}
	return out
}

func newTestHub(t *testing.T, ping time.Duration) *Hub {
	t.Helper()
	h := New(context.Background(), Config{PingInterval: ping}, nil)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHub_FanOutPreservesOrder(t *testing.T) {
	h := newTestHub(t, time.Hour)

	const viewers = 5
	chans := make([]*fakeChannel, viewers)
	for i := range chans {
		chans[i] = &fakeChannel{}
		_, err := h.Subscribe("svc", chans[i], SubscribeOptions{})
		require.NoError(t, err)
	}

	// Two concurrent publishers, like stdout and stderr capture.
	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Publish("svc", logs.NewEntry(fmt.Sprintf("p%d-%d", p, i), logs.LevelInfo))
			}
		}(p)
	}
	wg.Wait()

	want := chans[0].messages()
	require.Len(t, want, 200)
	for i := 1; i < viewers; i++ {
		assert.Equal(t, want, chans[i].messages(), "viewer %d saw a different order", i)
	}
}

func TestHub_UnsubscribedViewerGetsNothing(t *testing.T) {
	h := newTestHub(t, time.Hour)

	stay := &fakeChannel{}
	leave := &fakeChannel{}
	_, err := h.Subscribe("svc", stay, SubscribeOptions{})
	require.NoError(t, err)
	v, err := h.Subscribe("svc", leave, SubscribeOptions{})
	require.NoError(t, err)

	h.Publish("svc", logs.NewEntry("before", logs.LevelInfo))
	h.Unsubscribe(v)
	h.Unsubscribe(v) // idempotent
	h.Publish("svc", logs.NewEntry("after", logs.LevelInfo))

	assert.Equal(t, []string{"before", "after"}, stay.messages())
	assert.Equal(t, []string{"before"}, leave.messages())
	assert.True(t, leave.closed)
	assert.Equal(t, 1, leave.closeCnt)

	select {
	case <-v.Done():
	default:
		t.Fatal("Done not closed after Unsubscribe")
	}
}

func TestHub_FailingViewerDroppedOthersUnaffected(t *testing.T) {
	h := newTestHub(t, time.Hour)

	good := &fakeChannel{}
	bad := &fakeChannel{sendErr: errors.New("broken pipe")}
	_, err := h.Subscribe("svc", good, SubscribeOptions{})
	require.NoError(t, err)
	bv, err := h.Subscribe("svc", bad, SubscribeOptions{})
	require.NoError(t, err)

	h.Publish("svc", logs.NewEntry("one", logs.LevelInfo))
	h.Publish("svc", logs.NewEntry("two", logs.LevelInfo))

	assert.Equal(t, []string{"one", "two"}, good.messages())
	assert.Equal(t, 1, h.Count("svc"))
	assert.True(t, bad.closed)
	<-bv.Done()
}

func TestHub_RoomsCreatedLazilyAndRemovedWhenEmpty(t *testing.T) {
	h := newTestHub(t, time.Hour)
	assert.Empty(t, h.Services())

	// Publishing with no viewers is a no-op.
	h.Publish("svc", logs.NewEntry("nobody", logs.LevelInfo))
	assert.Empty(t, h.Services())

	v, err := h.Subscribe("svc", &fakeChannel{}, SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"svc"}, h.Services())

	h.Unsubscribe(v)
	assert.Empty(t, h.Services())
	assert.Zero(t, h.Count("svc"))
}

func TestHub_LivenessDropsUnresponsive(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond)

	alive := &fakeChannel{}
	dead := &fakeChannel{pingErr: errors.New("no pong")}
	_, err := h.Subscribe("svc", alive, SubscribeOptions{})
	require.NoError(t, err)
	dv, err := h.Subscribe("svc", dead, SubscribeOptions{})
	require.NoError(t, err)

	select {
	case <-dv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("unresponsive viewer was not dropped")
	}
	assert.Equal(t, 1, h.Count("svc"))

	alive.mu.Lock()
	pings := alive.pings
	alive.mu.Unlock()
	assert.Greater(t, pings, 0)
}

func TestHub_BackfillAndBuffer(t *testing.T) {
	h := newTestHub(t, time.Hour)

	ch := &fakeChannel{}
	backfill := []logs.Entry{
		logs.NewEntry("old 1", logs.LevelInfo),
		logs.NewEntry("old 2", logs.LevelWarn),
	}
	v, err := h.Subscribe("svc", ch, SubscribeOptions{BufferSize: 100, Backfill: backfill})
	require.NoError(t, err)
	h.Publish("svc", logs.NewEntry("live", logs.LevelInfo))

	assert.Equal(t, []string{"old 1", "old 2", "live"}, ch.messages())
	assert.Len(t, v.Session().Entries(), 3)
	assert.Equal(t, 100, v.Session().BufferSize())
	assert.True(t, v.Session().Autoscroll())

	v.Session().SetAutoscroll(false)
	assert.False(t, v.Session().Autoscroll())
	v.Session().Clear()
	assert.Empty(t, v.Session().Entries())
}

func TestHub_SubscribeRejectsBadBufferSize(t *testing.T) {
	h := newTestHub(t, time.Hour)
	_, err := h.Subscribe("svc", &fakeChannel{}, SubscribeOptions{BufferSize: 42})
	assert.Error(t, err)
}

func TestHub_CloseClosesAllViewers(t *testing.T) {
	h := New(context.Background(), Config{PingInterval: time.Hour}, nil)

	a := &fakeChannel{}
	b := &fakeChannel{}
	_, err := h.Subscribe("one", a, SubscribeOptions{})
	require.NoError(t, err)
	_, err = h.Subscribe("two", b, SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Empty(t, h.Services())

	_, err = h.Subscribe("one", &fakeChannel{}, SubscribeOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, h.Close())
}

func TestQueue(t *testing.T) {
	q := NewQueue(2)
	require.NoError(t, q.Push(logs.NewEntry("a", logs.LevelInfo)))
	require.NoError(t, q.Push(logs.NewEntry("b", logs.LevelInfo)))
	assert.ErrorIs(t, q.Push(logs.NewEntry("c", logs.LevelInfo)), ErrQueueFull)

	e := <-q.C()
	assert.Equal(t, "a", e.Message)

	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Push(logs.NewEntry("d", logs.LevelInfo)), ErrQueueClosed)
}
