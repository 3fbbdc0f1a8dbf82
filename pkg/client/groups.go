// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// GroupClient manages groups of services.
type GroupClient struct {
	c *Client
}

// List returns all groups.
func (g *GroupClient) List(ctx context.Context) ([]Group, error) {
	data, err := g.c.get(ctx, "/api/v1/groups")
	if err != nil {
		return nil, err
	}
	var groups []Group
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse groups: %w", err)
	}
	return groups, nil
}

// Get returns a group by id.
func (g *GroupClient) Get(ctx context.Context, id string) (*Group, error) {
	return g.group(g.c.get(ctx, g.path(id)))
}

// Create adds an empty group.
func (g *GroupClient) Create(ctx context.Context, name string) (*Group, error) {
	return g.group(g.c.postJSON(ctx, "/api/v1/groups", map[string]string{"name": name}))
}

// Rename changes a group's name.
func (g *GroupClient) Rename(ctx context.Context, id, name string) (*Group, error) {
	return g.group(g.c.patchJSON(ctx, g.path(id), map[string]string{"name": name}))
}

// Delete removes a group. Member services are not touched.
func (g *GroupClient) Delete(ctx context.Context, id string) error {
	_, err := g.c.delete(ctx, g.path(id))
	return err
}

// AddMember appends a service to a group.
func (g *GroupClient) AddMember(ctx context.Context, id, serviceID string) (*Group, error) {
	return g.group(g.c.post(ctx, g.path(id)+"/members/"+url.PathEscape(serviceID)))
}

// RemoveMember removes a service from a group.
func (g *GroupClient) RemoveMember(ctx context.Context, id, serviceID string) (*Group, error) {
	return g.group(g.c.delete(ctx, g.path(id)+"/members/"+url.PathEscape(serviceID)))
}

// Start starts every member in order. A member failure does not stop the
// run; inspect the report's Failed count and Results.
func (g *GroupClient) Start(ctx context.Context, id string) (*GroupReport, error) {
	return g.report(g.c.post(ctx, g.path(id)+"/start"))
}

// Stop stops every member in order.
func (g *GroupClient) Stop(ctx context.Context, id string) (*GroupReport, error) {
	return g.report(g.c.post(ctx, g.path(id)+"/stop"))
}

func (g *GroupClient) path(id string) string {
	return "/api/v1/groups/" + url.PathEscape(id)
}

func (g *GroupClient) group(data json.RawMessage, err error) (*Group, error) {
	if err != nil {
		return nil, err
	}
	var grp Group
	if err := json.Unmarshal(data, &grp); err != nil {
		return nil, fmt.Errorf("failed to parse group: %w", err)
	}
	return &grp, nil
}

func (g *GroupClient) report(data json.RawMessage, err error) (*GroupReport, error) {
	if err != nil {
		return nil, err
	}
	var r GroupReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse group report: %w", err)
	}
	return &r, nil
}
