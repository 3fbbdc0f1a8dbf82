// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/events"
	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/ports"
)

// fakeProber reports ports as bound according to a map.
type fakeProber struct {
	mu     sync.Mutex
	bound  map[int]bool
	err    error
	probes int
	// onProbe runs before each answer, with the 1-based probe count.
	onProbe func(port, n int)
}

func newFakeProber() *fakeProber {
	return &fakeProber{bound: make(map[int]bool)}
}

func (p *fakeProber) Probe(ctx context.Context, port int) (ports.Result, error) {
	p.mu.Lock()
	p.probes++
	n := p.probes
	hook := p.onProbe
	p.mu.Unlock()
	if hook != nil {
		hook(port, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return ports.Result{Port: port}, p.err
	}
	return ports.Result{Port: port, Bound: p.bound[port]}, nil
}

func (p *fakeProber) set(port int, bound bool) {
	p.mu.Lock()
	p.bound[port] = bound
	p.mu.Unlock()
}

func (p *fakeProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func (p *fakeProber) reset() {
	p.mu.Lock()
	p.probes = 0
	p.mu.Unlock()
}

// fakeReclaimer records calls. Terminate frees the port when freeOnKill is set.
type fakeReclaimer struct {
	mu         sync.Mutex
	prober     *fakeProber
	reclaimOK  bool
	freeOnKill bool
	reclaims   []int
	terminates []int
}

func (r *fakeReclaimer) Reclaim(ctx context.Context, port int, timeout time.Duration) bool {
	r.mu.Lock()
	r.reclaims = append(r.reclaims, port)
	ok := r.reclaimOK
	r.mu.Unlock()
	if ok {
		r.prober.set(port, false)
	}
	return ok
}

func (r *fakeReclaimer) Terminate(ctx context.Context, port int) ([]int, error) {
	r.mu.Lock()
	r.terminates = append(r.terminates, port)
	free := r.freeOnKill
	r.mu.Unlock()
	if free {
		r.prober.set(port, false)
		return []int{4242}, nil
	}
	return nil, nil
}

func (r *fakeReclaimer) terminateCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.terminates)
}

// fakeLauncher hands out fakeHandles. bindOnLaunch marks the port bound.
type fakeLauncher struct {
	mu           sync.Mutex
	prober       *fakeProber
	bindOnLaunch bool
	err          error
	gate         chan struct{} // if set, Launch blocks until it is closed
	entered      chan struct{}
	launched     []*fakeHandle
}

func (l *fakeLauncher) Launch(svc catalog.Service) (Handle, error) {
	if l.entered != nil {
		select {
		case l.entered <- struct{}{}:
		default:
		}
	}
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	h := newFakeHandle(1000 + len(l.launched))
	l.launched = append(l.launched, h)
	if l.bindOnLaunch {
		l.prober.set(svc.Port, true)
	}
	return h, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

type fakeHandle struct {
	pid  int
	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	killed bool
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.exit()
	return nil
}

func (h *fakeHandle) exit() { h.once.Do(func() { close(h.done) }) }

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) ExitErr() error        { return nil }

// recordingSink keeps written lines per service.
type recordingSink struct {
	mu    sync.Mutex
	lines map[string][]logs.Entry
}

func newRecordingSink() *recordingSink {
	return &recordingSink{lines: make(map[string][]logs.Entry)}
}

func (s *recordingSink) Register(serviceID, path string) {}

func (s *recordingSink) Write(serviceID, line string, level logs.Level) logs.Entry {
	e := logs.NewEntry(line, level)
	s.mu.Lock()
	s.lines[serviceID] = append(s.lines[serviceID], e)
	s.mu.Unlock()
	return e
}

func (s *recordingSink) messages(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.lines[id] {
		out = append(out, e.Message)
	}
	return out
}

// failingStore fails every write after GetService succeeds.
type failingStore struct {
	catalog.Store
}

func (failingStore) UpsertService(ctx context.Context, svc catalog.Service) (catalog.Service, error) {
	return catalog.Service{}, errors.New("disk full")
}

type rig struct {
	store     catalog.Store
	prober    *fakeProber
	reclaimer *fakeReclaimer
	launcher  *fakeLauncher
	sink      *recordingSink
	bus       *events.MemoryBus
	ctrl      *Controller
}

func testConfig() Config {
	return Config{PollInterval: 0, MaxAttempts: 10, ReclaimTimeout: 0, ReclaimSettle: 0}
}

func newRig(t *testing.T) *rig {
	t.Helper()
	store, err := catalog.OpenJSONStore(context.Background(), filepath.Join(t.TempDir(), "services.json"), false)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	prober := newFakeProber()
	r := &rig{
		store:     store,
		prober:    prober,
		reclaimer: &fakeReclaimer{prober: prober, reclaimOK: true, freeOnKill: true},
		launcher:  &fakeLauncher{prober: prober, bindOnLaunch: true},
		sink:      newRecordingSink(),
		bus:       events.NewMemoryBus(events.MemoryBusConfig{}),
	}
	t.Cleanup(func() { r.bus.Close() })
	r.ctrl = r.controller(testConfig(), store)
	return r
}

func (r *rig) controller(cfg Config, store catalog.Store) *Controller {
	return NewController(cfg, Deps{
		Store:     store,
		Prober:    r.prober,
		Reclaimer: r.reclaimer,
		Launcher:  r.launcher,
		Sink:      r.sink,
		Bus:       r.bus,
	})
}

func (r *rig) addService(t *testing.T, name string, port int) catalog.Service {
	t.Helper()
	svc, err := r.store.UpsertService(context.Background(), catalog.Service{
		Name: name, Port: port, Path: t.TempDir(),
	})
	require.NoError(t, err)
	return svc
}

func (r *rig) get(t *testing.T, id string) catalog.Service {
	t.Helper()
	svc, err := r.store.GetService(context.Background(), id)
	require.NoError(t, err)
	return svc
}

func (r *rig) eventTypes(t *testing.T, service string) []string {
	t.Helper()
	evs, err := r.bus.History(events.Filter{Service: service})
	require.NoError(t, err)
	var out []string
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}
