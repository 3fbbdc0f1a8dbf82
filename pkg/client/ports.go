// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// PortClient probes ports on the supervisor's host.
type PortClient struct {
	c *Client
}

// Probe reports whether anything listens on port.
func (p *PortClient) Probe(ctx context.Context, port int) (*Probe, error) {
	data, err := p.c.get(ctx, fmt.Sprintf("/api/v1/ports/%d", port))
	if err != nil {
		return nil, err
	}
	var res Probe
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to parse probe: %w", err)
	}
	return &res, nil
}
