// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// Service is a catalog record together with the supervisor's view of it.
type Service struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Port        int        `json:"port"`
	Path        string     `json:"path"`
	Command     string     `json:"command,omitempty"`
	Status      string     `json:"status"` // running, stopped, error or unknown
	LastStarted *time.Time `json:"lastStarted,omitempty"`
	LastStopped *time.Time `json:"lastStopped,omitempty"`

	// State is the in-memory transition state: idle, starting, running,
	// stopping or error.
	State     string `json:"state"`
	LastError string `json:"lastError,omitempty"`
	PID       int    `json:"pid,omitempty"`

	// Probe is the port check made while serving the request, if any.
	Probe *Probe `json:"probe,omitempty"`
}

// ServiceInput holds the descriptive fields of a service. Status fields are
// owned by the server.
type ServiceInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Port        int    `json:"port"`
	Path        string `json:"path"`
	Command     string `json:"command,omitempty"`
}

// Probe is the result of checking a TCP port.
type Probe struct {
	Port      int    `json:"port"`
	Bound     bool   `json:"bound"`
	OwnerHint string `json:"ownerHint,omitempty"`
	PIDs      []int  `json:"pids,omitempty"`
}

// Group is a named, ordered set of service ids.
type Group struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Services []string `json:"services"`
}

// MemberResult is the outcome of a group operation for one member.
type MemberResult struct {
	ServiceID string `json:"serviceId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
}

// GroupReport summarizes a group start or stop.
type GroupReport struct {
	GroupID   string         `json:"groupId"`
	Op        string         `json:"op"`
	Results   []MemberResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// Event is a lifecycle event from the history.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// LogEntry is one captured log line.
type LogEntry struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}
