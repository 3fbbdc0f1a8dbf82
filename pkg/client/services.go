// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// ServiceClient provides access to catalog and lifecycle operations.
//
// Access this client through [Client.Services]:
//
//	services, err := client.Services.List(ctx)
type ServiceClient struct {
	c *Client
}

// List returns every service. The server probes each port before answering,
// so Status reflects what is actually bound.
//
// Example:
//
//	services, err := client.Services.List(ctx)
//	for _, svc := range services {
//	    fmt.Printf("%s: %s\n", svc.Name, svc.Status)
//	}
func (s *ServiceClient) List(ctx context.Context) ([]Service, error) {
	data, err := s.c.get(ctx, "/api/v1/services")
	if err != nil {
		return nil, err
	}

	var services []Service
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("failed to parse services: %w", err)
	}

	return services, nil
}

// Get returns a service by id.
func (s *ServiceClient) Get(ctx context.Context, id string) (*Service, error) {
	return s.service(s.c.get(ctx, "/api/v1/services/"+url.PathEscape(id)))
}

// Create adds a service to the catalog. It starts out stopped.
func (s *ServiceClient) Create(ctx context.Context, in ServiceInput) (*Service, error) {
	return s.service(s.c.postJSON(ctx, "/api/v1/services", in))
}

// Update replaces a service's descriptive fields.
func (s *ServiceClient) Update(ctx context.Context, id string, in ServiceInput) (*Service, error) {
	return s.service(s.c.putJSON(ctx, "/api/v1/services/"+url.PathEscape(id), in))
}

// Delete stops a service and removes it from the catalog and its groups.
func (s *ServiceClient) Delete(ctx context.Context, id string) error {
	_, err := s.c.delete(ctx, "/api/v1/services/"+url.PathEscape(id))
	return err
}

// Start launches a service and waits until its port is bound.
//
// A service whose port never binds within the server's readiness window
// yields an *APIError with code TIMEOUT. A second start while one is in
// flight yields CONFLICT.
func (s *ServiceClient) Start(ctx context.Context, id string) (*Service, error) {
	return s.service(s.c.post(ctx, "/api/v1/services/"+url.PathEscape(id)+"/start"))
}

// Stop kills whatever holds the service's port and waits for it to free.
func (s *ServiceClient) Stop(ctx context.Context, id string) (*Service, error) {
	return s.service(s.c.post(ctx, "/api/v1/services/"+url.PathEscape(id)+"/stop"))
}

// Refresh re-probes a service's port and reconciles its status.
func (s *ServiceClient) Refresh(ctx context.Context, id string) (*Service, error) {
	return s.service(s.c.post(ctx, "/api/v1/services/"+url.PathEscape(id)+"/refresh"))
}

// Logs returns the last lines entries of a service's log file.
func (s *ServiceClient) Logs(ctx context.Context, id string, lines int) ([]LogEntry, error) {
	path := "/api/v1/services/" + url.PathEscape(id) + "/logs"
	if lines > 0 {
		path += fmt.Sprintf("?lines=%d", lines)
	}
	data, err := s.c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var result struct {
		Entries []LogEntry `json:"entries"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse log entries: %w", err)
	}
	return result.Entries, nil
}

func (s *ServiceClient) service(data json.RawMessage, err error) (*Service, error) {
	if err != nil {
		return nil, err
	}
	var svc Service
	if err := json.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("failed to parse service: %w", err)
	}
	return &svc, nil
}
