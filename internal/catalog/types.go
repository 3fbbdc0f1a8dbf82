// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package catalog stores the service and group records the supervisor manages.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a service or group id does not exist.
var ErrNotFound = errors.New("not found")

// Status is the last known OS state of a service.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// Service is a managed external process.
type Service struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Port        int        `json:"port"`
	Path        string     `json:"path"`
	Command     string     `json:"command,omitempty"` // empty means the configured default command
	Status      Status     `json:"status"`
	LastStarted *time.Time `json:"lastStarted,omitempty"`
	LastStopped *time.Time `json:"lastStopped,omitempty"`
}

// LogPath returns the durable log file for the service.
func (s Service) LogPath() string {
	return filepath.Join(s.Path, "logs", "service.log")
}

// Validate checks the descriptive fields of a service record.
func (s Service) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if s.Port <= 0 || s.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", s.Port))
	}
	if strings.TrimSpace(s.Path) == "" {
		problems = append(problems, "path is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid service: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Group is a named set of service ids.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Services []string `json:"services"`
}

// Has reports whether the group contains the service id.
func (g Group) Has(serviceID string) bool {
	for _, id := range g.Services {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Store is a record store for services and groups keyed by id.
//
// Implementations must be safe for concurrent use. The store does not
// coordinate status writes; the lifecycle controller serializes those per id.
type Store interface {
	ListServices(ctx context.Context) ([]Service, error)
	GetService(ctx context.Context, id string) (Service, error)
	// UpsertService inserts or replaces a service. An empty id is assigned
	// a new one and the stored record is returned.
	UpsertService(ctx context.Context, svc Service) (Service, error)
	// DeleteService removes the service and its memberships in all groups.
	DeleteService(ctx context.Context, id string) error

	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	CreateGroup(ctx context.Context, name string) (Group, error)
	RenameGroup(ctx context.Context, id, name string) error
	// DeleteGroup removes the group. Member services are not affected.
	DeleteGroup(ctx context.Context, id string) error
	AddMember(ctx context.Context, groupID, serviceID string) error
	RemoveMember(ctx context.Context, groupID, serviceID string) error

	Close() error
}

// Open opens the store for the given driver ("json" or "sqlite").
func Open(ctx context.Context, driver, path string, watch bool) (Store, error) {
	switch driver {
	case "", "json":
		return OpenJSONStore(ctx, path, watch)
	case "sqlite":
		return OpenSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", driver)
	}
}
