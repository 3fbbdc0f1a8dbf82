// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle starts and stops catalog services, using port occupancy
// as the signal that a service is up or down.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/events"
	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/metrics"
	"github.com/wingedpig/servicedeck/internal/ports"
)

// Config holds the controller's timing.
type Config struct {
	PollInterval   time.Duration // between readiness and stop probes
	MaxAttempts    int           // probes per transition
	ReclaimTimeout time.Duration
	ReclaimSettle  time.Duration // pause between reclaim and launch
}

// DefaultConfig returns the standard timing: ten probes one second apart.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		MaxAttempts:    10,
		ReclaimTimeout: 3 * time.Second,
		ReclaimSettle:  time.Second,
	}
}

// Reclaimer frees ports. *ports.Reclaimer implements it.
type Reclaimer interface {
	Reclaim(ctx context.Context, port int, timeout time.Duration) bool
	Terminate(ctx context.Context, port int) ([]int, error)
}

// Deps are the controller's collaborators. Bus and Metrics may be nil.
type Deps struct {
	Store     catalog.Store
	Prober    ports.Prober
	Reclaimer Reclaimer
	Launcher  Launcher
	Sink      LineSink
	Bus       events.Bus
	Metrics   *metrics.Metrics
}

// Controller runs start and stop transitions. Transitions for one service
// id never overlap; a request that arrives while one is in flight fails
// with ErrBusy. Transitions for different ids run independently.
type Controller struct {
	cfg  Config
	deps Deps

	mu    sync.Mutex
	units map[string]*unit
}

type unit struct {
	// op is held for the whole of a transition, including the catalog
	// read-modify-write of status fields.
	op sync.Mutex

	mu      sync.Mutex
	state   State
	lastErr error
	handle  Handle
}

// NewController creates a controller.
func NewController(cfg Config, deps Deps) *Controller {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		units: make(map[string]*unit),
	}
}

func (c *Controller) unit(id string) *unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.units[id]
	if !ok {
		u = &unit{}
		c.units[id] = u
	}
	return u
}

func (u *unit) set(state State, err error) {
	u.mu.Lock()
	u.state = state
	if err != nil {
		u.lastErr = err
	}
	u.mu.Unlock()
}

// Status returns the controller's view of id.
func (c *Controller) Status(id string) Status {
	u := c.unit(id)
	u.mu.Lock()
	defer u.mu.Unlock()
	st := Status{State: u.state}
	if u.lastErr != nil {
		st.LastError = u.lastErr.Error()
	}
	if u.handle != nil {
		st.PID = u.handle.PID()
	}
	return st
}

// State returns the current state of id.
func (c *Controller) State(id string) State {
	return c.Status(id).State
}

// LastError returns the most recent failure for id, or nil.
func (c *Controller) LastError(id string) error {
	u := c.unit(id)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// forget drops controller state for a deleted service.
func (c *Controller) forget(id string) {
	c.mu.Lock()
	delete(c.units, id)
	c.mu.Unlock()
}

// acquire takes the transition lock for id.
func (c *Controller) acquire(id, op string) (*unit, error) {
	u := c.unit(id)
	if !u.op.TryLock() {
		return nil, newError(KindBusy, id, op, nil)
	}
	return u, nil
}

// Start brings the service up: reclaim its port, launch it, then poll the
// port until bound. Once begun, a transition runs to completion even if
// ctx is cancelled.
func (c *Controller) Start(ctx context.Context, id string) error {
	u, err := c.acquire(id, "start")
	if err != nil {
		return err
	}
	defer u.op.Unlock()

	ctx = context.WithoutCancel(ctx)
	begin := time.Now()
	err = c.start(ctx, u, id)
	c.deps.Metrics.ObserveLifecycle("start", resultLabel(err), time.Since(begin))
	return err
}

func (c *Controller) start(ctx context.Context, u *unit, id string) error {
	svc, err := c.deps.Store.GetService(ctx, id)
	if err != nil {
		return c.lookupError(id, "start", err)
	}
	if err := c.checkPortConflict(ctx, svc); err != nil {
		return err
	}

	callTime := time.Now()
	u.set(StateStarting, nil)
	c.deps.Sink.Register(svc.ID, svc.LogPath())
	c.narrate(svc, fmt.Sprintf("Starting service %s...", svc.Name))
	c.publish(ctx, events.ServiceStarting, svc, nil)

	if !c.deps.Reclaimer.Reclaim(ctx, svc.Port, c.cfg.ReclaimTimeout) {
		rerr := newError(KindReclaim, svc.ID, "start", fmt.Errorf("port %d still bound after %s", svc.Port, c.cfg.ReclaimTimeout))
		log.Printf("Service %s: %v (launching anyway)", svc.Name, rerr)
		c.narrate(svc, fmt.Sprintf("Port %d could not be freed, launching anyway", svc.Port))
	}
	c.killTracked(u)
	sleep(c.cfg.ReclaimSettle)

	h, err := c.deps.Launcher.Launch(svc)
	if err != nil {
		lerr := newError(KindSpawn, svc.ID, "start", err)
		c.narrate(svc, fmt.Sprintf("Error: failed to launch: %v", err))
		return c.failStart(ctx, u, svc, lerr)
	}
	u.mu.Lock()
	u.handle = h
	u.mu.Unlock()
	log.Printf("Service %s launched (PID %d), waiting for port %d", svc.Name, h.PID(), svc.Port)

	if !c.await(ctx, svc.Port, true) {
		// Kill it so a late bind cannot contradict the stopped status.
		if kerr := h.Kill(); kerr != nil {
			log.Printf("Service %s: kill after readiness timeout: %v", svc.Name, kerr)
		}
		c.narrate(svc, "Service failed to start within expected time")
		terr := newError(KindReadinessTimeout, svc.ID, "start",
			fmt.Errorf("port %d not bound after %d attempts", svc.Port, c.cfg.MaxAttempts))
		return c.failStart(ctx, u, svc, terr)
	}

	now := time.Now()
	if now.Before(callTime) {
		now = callTime
	}
	if err := c.updateStatus(ctx, svc.ID, func(s *catalog.Service) {
		s.Status = catalog.StatusRunning
		s.LastStarted = &now
	}); err != nil {
		cerr := newError(KindCatalog, svc.ID, "start", err)
		u.set(StateRunning, cerr)
		go c.watchExit(svc, h)
		return cerr
	}

	u.mu.Lock()
	u.state = StateRunning
	u.lastErr = nil
	u.mu.Unlock()
	c.narrate(svc, "Service started successfully")
	c.publish(ctx, events.ServiceStarted, svc, map[string]any{"pid": h.PID()})
	log.Printf("Service %s started (PID %d)", svc.Name, h.PID())
	go c.watchExit(svc, h)
	return nil
}

// failStart forces the catalog to stopped and passes through Error to Idle.
func (c *Controller) failStart(ctx context.Context, u *unit, svc catalog.Service, cause *Error) error {
	u.set(StateError, cause)
	log.Printf("Service %s failed to start: %v", svc.Name, cause)
	if err := c.updateStatus(ctx, svc.ID, func(s *catalog.Service) {
		s.Status = catalog.StatusStopped
	}); err != nil {
		log.Printf("Service %s: cannot record stopped status: %v", svc.Name, err)
	}
	c.publish(ctx, events.ServiceStartFailed, svc, map[string]any{"error": cause.Error(), "kind": string(cause.Kind)})
	u.mu.Lock()
	u.state = StateIdle
	u.handle = nil
	u.mu.Unlock()
	return cause
}

// Stop brings the service down. A service whose port is already free is
// stopped without sending any signal. If the port stays bound the catalog
// is still marked stopped and ErrStopTimeout is returned.
func (c *Controller) Stop(ctx context.Context, id string) error {
	u, err := c.acquire(id, "stop")
	if err != nil {
		return err
	}
	defer u.op.Unlock()

	ctx = context.WithoutCancel(ctx)
	begin := time.Now()
	err = c.stop(ctx, u, id)
	c.deps.Metrics.ObserveLifecycle("stop", resultLabel(err), time.Since(begin))
	return err
}

func (c *Controller) stop(ctx context.Context, u *unit, id string) error {
	svc, err := c.deps.Store.GetService(ctx, id)
	if err != nil {
		return c.lookupError(id, "stop", err)
	}
	u.set(StateStopping, nil)
	c.deps.Sink.Register(svc.ID, svc.LogPath())

	res, perr := c.deps.Prober.Probe(ctx, svc.Port)
	if perr == nil && !res.Bound {
		if err := c.updateStatus(ctx, svc.ID, func(s *catalog.Service) {
			if s.Status == catalog.StatusRunning {
				now := time.Now()
				s.LastStopped = &now
			}
			s.Status = catalog.StatusStopped
		}); err != nil {
			cerr := newError(KindCatalog, svc.ID, "stop", err)
			u.set(StateIdle, cerr)
			return cerr
		}
		u.mu.Lock()
		u.state = StateIdle
		u.handle = nil
		u.mu.Unlock()
		c.publish(ctx, events.ServiceStopped, svc, map[string]any{"noop": true})
		return nil
	}

	c.narrate(svc, fmt.Sprintf("Stopping service %s...", svc.Name))
	c.publish(ctx, events.ServiceStopping, svc, nil)

	pids, terr := c.deps.Reclaimer.Terminate(ctx, svc.Port)
	if terr != nil {
		log.Printf("Service %s: terminate port %d: %v", svc.Name, svc.Port, terr)
	} else if len(pids) > 0 {
		log.Printf("Service %s: killed %v holding port %d", svc.Name, pids, svc.Port)
	}
	c.killTracked(u)

	stopped := c.await(ctx, svc.Port, false)

	now := time.Now()
	uerr := c.updateStatus(ctx, svc.ID, func(s *catalog.Service) {
		s.Status = catalog.StatusStopped
		s.LastStopped = &now
	})

	if !stopped {
		c.narrate(svc, "Service did not stop within expected time")
		serr := newError(KindStopTimeout, svc.ID, "stop",
			fmt.Errorf("port %d still bound after %d attempts", svc.Port, c.cfg.MaxAttempts))
		u.set(StateError, serr)
		log.Printf("Service %s: %v", svc.Name, serr)
		if uerr != nil {
			log.Printf("Service %s: cannot record stopped status: %v", svc.Name, uerr)
		}
		c.publish(ctx, events.ServiceStopFailed, svc, map[string]any{"error": serr.Error(), "kind": string(serr.Kind)})
		u.set(StateIdle, nil)
		return serr
	}
	if uerr != nil {
		cerr := newError(KindCatalog, svc.ID, "stop", uerr)
		u.set(StateIdle, cerr)
		return cerr
	}

	u.mu.Lock()
	u.state = StateIdle
	u.lastErr = nil
	u.mu.Unlock()
	c.narrate(svc, "Service stopped successfully")
	c.publish(ctx, events.ServiceStopped, svc, nil)
	log.Printf("Service %s stopped", svc.Name)
	return nil
}

// UpdateService applies mutate to a fresh copy of the record under the
// transition lock and saves it. The id, status and start/stop timestamps
// always keep their catalog values. Port and path may only change while the
// service's port is free and no launched process is tracked.
func (c *Controller) UpdateService(ctx context.Context, id string, mutate func(*catalog.Service)) (catalog.Service, error) {
	u, err := c.acquire(id, "update")
	if err != nil {
		return catalog.Service{}, err
	}
	defer u.op.Unlock()

	cur, err := c.deps.Store.GetService(ctx, id)
	if err != nil {
		return catalog.Service{}, c.lookupError(id, "update", err)
	}
	next := cur
	mutate(&next)
	next.ID = cur.ID
	next.Status = cur.Status
	next.LastStarted = cur.LastStarted
	next.LastStopped = cur.LastStopped
	if err := next.Validate(); err != nil {
		return catalog.Service{}, newError(KindInvalid, id, "update", err)
	}

	if next.Port != cur.Port || next.Path != cur.Path {
		u.mu.Lock()
		tracked := u.handle != nil
		u.mu.Unlock()
		if tracked {
			return catalog.Service{}, newError(KindInUse, id, "update", errors.New("launched process still tracked"))
		}
		res, perr := c.deps.Prober.Probe(ctx, cur.Port)
		if perr != nil {
			return catalog.Service{}, newError(KindInUse, id, "update", fmt.Errorf("cannot verify port %d is free: %w", cur.Port, perr))
		}
		if res.Bound {
			return catalog.Service{}, newError(KindInUse, id, "update", fmt.Errorf("port %d is bound", cur.Port))
		}
	}

	saved, err := c.deps.Store.UpsertService(ctx, next)
	if err != nil {
		return catalog.Service{}, newError(KindCatalog, id, "update", err)
	}
	if saved.Path != cur.Path {
		c.deps.Sink.Register(saved.ID, saved.LogPath())
	}
	return saved, nil
}

// Delete stops the service and removes it from the catalog and every group
// without releasing the transition lock in between, so no start can slip in.
// A stop that times out does not prevent deletion.
func (c *Controller) Delete(ctx context.Context, id string) error {
	u, err := c.acquire(id, "delete")
	if err != nil {
		return err
	}
	defer u.op.Unlock()

	ctx = context.WithoutCancel(ctx)
	begin := time.Now()
	err = c.delete(ctx, u, id)
	c.deps.Metrics.ObserveLifecycle("delete", resultLabel(err), time.Since(begin))
	return err
}

func (c *Controller) delete(ctx context.Context, u *unit, id string) error {
	if err := c.stop(ctx, u, id); err != nil {
		if KindOf(err) != KindStopTimeout {
			return err
		}
		log.Printf("Service %s: deleting although stop timed out", id)
	}
	if err := c.deps.Store.DeleteService(ctx, id); err != nil {
		return c.lookupError(id, "delete", err)
	}
	c.forget(id)
	log.Printf("Service %s deleted", id)
	return nil
}

// await polls the port up to MaxAttempts times, sleeping PollInterval
// before each probe, until its bound state equals want. Probe errors count
// as "not yet".
func (c *Controller) await(ctx context.Context, port int, want bool) bool {
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		sleep(c.cfg.PollInterval)
		res, err := c.deps.Prober.Probe(ctx, port)
		if err != nil {
			continue
		}
		if res.Bound == want {
			return true
		}
	}
	return false
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// Refresh probes the service's port and reconciles the catalog status.
// Services with a transition in flight return ErrBusy.
func (c *Controller) Refresh(ctx context.Context, id string) (ports.Result, error) {
	u, err := c.acquire(id, "refresh")
	if err != nil {
		return ports.Result{}, err
	}
	defer u.op.Unlock()

	svc, err := c.deps.Store.GetService(ctx, id)
	if err != nil {
		return ports.Result{}, c.lookupError(id, "refresh", err)
	}
	return c.reconcile(ctx, u, svc)
}

// reconcile writes the probed status. Caller holds u.op.
func (c *Controller) reconcile(ctx context.Context, u *unit, svc catalog.Service) (ports.Result, error) {
	res, perr := c.deps.Prober.Probe(ctx, svc.Port)
	status := catalog.StatusStopped
	switch {
	case perr != nil:
		status = catalog.StatusUnknown
	case res.Bound:
		status = catalog.StatusRunning
	}

	u.mu.Lock()
	if u.state != StateStarting && u.state != StateStopping {
		if status == catalog.StatusRunning {
			u.state = StateRunning
		} else {
			u.state = StateIdle
		}
	}
	u.mu.Unlock()

	if svc.Status != status {
		if err := c.updateStatus(ctx, svc.ID, func(s *catalog.Service) {
			s.Status = status
		}); err != nil {
			return res, newError(KindCatalog, svc.ID, "refresh", err)
		}
	}
	return res, perr
}

// RefreshAll reconciles every service, probing at most eight at a time.
// Busy services are skipped. It returns the probe results by id.
func (c *Controller) RefreshAll(ctx context.Context) (map[string]ports.Result, error) {
	services, err := c.deps.Store.ListServices(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	results := make(map[string]ports.Result, len(services))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			u := c.unit(svc.ID)
			if !u.op.TryLock() {
				return nil
			}
			defer u.op.Unlock()
			res, err := c.reconcile(gctx, u, svc)
			if err != nil && KindOf(err) == KindCatalog {
				return err
			}
			mu.Lock()
			results[svc.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// watchExit reconciles status when a launched process exits on its own.
func (c *Controller) watchExit(svc catalog.Service, h Handle) {
	<-h.Done()
	ctx := context.Background()
	c.publish(ctx, events.ServiceExited, svc, map[string]any{"pid": h.PID(), "exit": fmt.Sprint(h.ExitErr())})

	c.mu.Lock()
	u, ok := c.units[svc.ID]
	c.mu.Unlock()
	if !ok {
		return // deleted
	}
	// A transition clears the handle before killing it.
	u.mu.Lock()
	current := u.handle == h
	u.mu.Unlock()
	if !current {
		return
	}
	if !u.op.TryLock() {
		return // a transition is in charge
	}
	defer u.op.Unlock()

	u.mu.Lock()
	current = u.handle == h
	if current {
		u.handle = nil
	}
	u.mu.Unlock()
	if !current {
		return
	}
	cur, err := c.deps.Store.GetService(ctx, svc.ID)
	if err != nil {
		return
	}
	if _, err := c.reconcile(ctx, u, cur); err != nil {
		log.Printf("Service %s: reconcile after exit: %v", svc.Name, err)
	}
}

func (c *Controller) killTracked(u *unit) {
	u.mu.Lock()
	h := u.handle
	u.handle = nil
	u.mu.Unlock()
	if h != nil {
		if err := h.Kill(); err != nil {
			log.Printf("Kill PID %d: %v", h.PID(), err)
		}
	}
}

// checkPortConflict refuses to start a service whose port belongs to a
// different service the catalog considers running.
func (c *Controller) checkPortConflict(ctx context.Context, svc catalog.Service) error {
	all, err := c.deps.Store.ListServices(ctx)
	if err != nil {
		return newError(KindCatalog, svc.ID, "start", err)
	}
	for _, other := range all {
		if other.ID != svc.ID && other.Port == svc.Port && other.Status == catalog.StatusRunning {
			return newError(KindPortConflict, svc.ID, "start",
				fmt.Errorf("port %d is used by running service %s", svc.Port, other.Name))
		}
	}
	return nil
}

// updateStatus re-reads the record and writes back only the status fields.
func (c *Controller) updateStatus(ctx context.Context, id string, mutate func(*catalog.Service)) error {
	svc, err := c.deps.Store.GetService(ctx, id)
	if err != nil {
		return err
	}
	mutate(&svc)
	_, err = c.deps.Store.UpsertService(ctx, svc)
	return err
}

func (c *Controller) lookupError(id, op string, err error) error {
	if errors.Is(err, catalog.ErrNotFound) {
		return newError(KindNotFound, id, op, nil)
	}
	return newError(KindCatalog, id, op, err)
}

func (c *Controller) narrate(svc catalog.Service, line string) {
	c.deps.Sink.Write(svc.ID, line, logs.Classify(line))
}

func (c *Controller) publish(ctx context.Context, typ string, svc catalog.Service, extra map[string]any) {
	if c.deps.Bus == nil {
		return
	}
	payload := map[string]any{"name": svc.Name, "port": svc.Port}
	for k, v := range extra {
		payload[k] = v
	}
	if err := c.deps.Bus.Publish(ctx, events.Event{Type: typ, Service: svc.ID, Payload: payload}); err != nil && !errors.Is(err, events.ErrBusClosed) {
		log.Printf("EventBus: publish %s: %v", typ, err)
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
