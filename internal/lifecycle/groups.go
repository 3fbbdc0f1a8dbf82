// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/events"
)

// Lifecycle starts and stops single services. *Controller implements it.
type Lifecycle interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
}

// MemberResult is the outcome for one group member.
type MemberResult struct {
	ServiceID string `json:"serviceId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	err       error
}

// GroupReport summarizes a group operation.
type GroupReport struct {
	GroupID   string         `json:"groupId"`
	Op        string         `json:"op"`
	Results   []MemberResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// Err returns a *MultiError of the member failures, or nil.
func (r *GroupReport) Err() error {
	var me MultiError
	for _, res := range r.Results {
		me.Add(res.err)
	}
	return me.Err()
}

// GroupOrchestrator applies start or stop to every member of a group.
type GroupOrchestrator struct {
	store catalog.Store
	lc    Lifecycle
	bus   events.Bus
}

// NewGroupOrchestrator creates an orchestrator. bus may be nil.
func NewGroupOrchestrator(store catalog.Store, lc Lifecycle, bus events.Bus) *GroupOrchestrator {
	return &GroupOrchestrator{store: store, lc: lc, bus: bus}
}

// StartGroup starts members one at a time in membership order. A failed
// member does not prevent the rest from being attempted. The returned
// error is the lookup failure, if any; member failures are in the report.
func (o *GroupOrchestrator) StartGroup(ctx context.Context, groupID string) (*GroupReport, error) {
	return o.run(ctx, groupID, "start", o.lc.Start, events.GroupStarted)
}

// StopGroup stops members one at a time in membership order.
func (o *GroupOrchestrator) StopGroup(ctx context.Context, groupID string) (*GroupReport, error) {
	return o.run(ctx, groupID, "stop", o.lc.Stop, events.GroupStopped)
}

func (o *GroupOrchestrator) run(ctx context.Context, groupID, op string, fn func(context.Context, string) error, eventType string) (*GroupReport, error) {
	g, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	report := &GroupReport{GroupID: g.ID, Op: op, Results: make([]MemberResult, 0, len(g.Services))}
	for _, id := range g.Services {
		res := MemberResult{ServiceID: id}
		if err := fn(ctx, id); err != nil {
			res.err = err
			res.Error = err.Error()
			res.Kind = KindOf(err)
			report.Failed++
			log.Printf("Group %s: %s %s failed: %v", g.Name, op, id, err)
		} else {
			res.OK = true
			report.Succeeded++
		}
		report.Results = append(report.Results, res)
	}

	if o.bus != nil {
		payload := map[string]any{
			"name":      g.Name,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		}
		if err := o.bus.Publish(ctx, events.Event{Type: eventType, Service: g.ID, Payload: payload}); err != nil && !errors.Is(err, events.ErrBusClosed) {
			log.Printf("EventBus: publish %s: %v", eventType, err)
		}
	}
	log.Printf("Group %s: %s finished, %d ok, %d failed", g.Name, op, report.Succeeded, report.Failed)
	return report, nil
}

// Summary is a one-line description of the report.
func (r *GroupReport) Summary() string {
	return fmt.Sprintf("%s group %s: %d succeeded, %d failed", r.Op, r.GroupID, r.Succeeded, r.Failed)
}
