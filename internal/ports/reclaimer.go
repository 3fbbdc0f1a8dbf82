// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package ports

import (
	"context"
	"errors"
	"log"
	"os"
	"syscall"
	"time"
)

// Reclaimer frees a port by killing whatever holds it. Any listener is a
// target, including processes the supervisor did not launch. The
// supervisor's own process is never signalled.
type Reclaimer struct {
	prober   Prober
	interval time.Duration
	self     int
	kill     func(pid int) error
}

// NewReclaimer creates a reclaimer that polls prober every interval while
// waiting for a port to be released.
func NewReclaimer(prober Prober, interval time.Duration) *Reclaimer {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Reclaimer{
		prober:   prober,
		interval: interval,
		self:     os.Getpid(),
		kill: func(pid int) error {
			return syscall.Kill(pid, syscall.SIGKILL)
		},
	}
}

// Terminate sends SIGKILL to every process listening on port and returns the
// pids that were signalled. A free port signals nothing.
func (r *Reclaimer) Terminate(ctx context.Context, port int) ([]int, error) {
	res, err := r.prober.Probe(ctx, port)
	if err != nil {
		return nil, err
	}
	if !res.Bound {
		return nil, nil
	}
	if len(res.PIDs) == 0 {
		log.Printf("Port %d: bound but holder is not visible to this user", port)
		return nil, nil
	}

	var signalled []int
	for _, pid := range res.PIDs {
		if pid == r.self {
			log.Printf("Port %d: held by the supervisor itself, not killing", port)
			continue
		}
		if err := r.kill(pid); err != nil && !errors.Is(err, syscall.ESRCH) {
			log.Printf("Port %d: kill pid %d: %v", port, pid, err)
			continue
		}
		signalled = append(signalled, pid)
	}
	return signalled, nil
}

// Reclaim kills the holders of port, then waits up to timeout for the port
// to be released. It reports whether the port ended up free. A port that is
// already free succeeds without signalling anything.
func (r *Reclaimer) Reclaim(ctx context.Context, port int, timeout time.Duration) bool {
	res, err := r.prober.Probe(ctx, port)
	if err == nil && !res.Bound {
		return true
	}

	pids, err := r.Terminate(ctx, port)
	if err != nil {
		log.Printf("Port %d: reclaim: %v", port, err)
	} else if len(pids) > 0 {
		log.Printf("Port %d: killed %v", port, pids)
	}

	deadline := time.Now().Add(timeout)
	for {
		res, err := r.prober.Probe(ctx, port)
		if err == nil && !res.Bound {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.interval):
		}
	}
}
