// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies lifecycle failures.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindBusy             Kind = "busy"
	KindPortConflict     Kind = "port_conflict"
	KindSpawn            Kind = "spawn"
	KindReadinessTimeout Kind = "readiness_timeout"
	KindReclaim          Kind = "reclaim"
	KindStopTimeout      Kind = "stop_timeout"
	KindCatalog          Kind = "catalog"
	KindInvalid          Kind = "invalid"
	KindInUse            Kind = "in_use"
)

// Sentinels for errors.Is. Each *Error matches the sentinel of its Kind.
var (
	ErrNotFound         = errors.New("service not found")
	ErrBusy             = errors.New("another start or stop is in progress")
	ErrPortConflict     = errors.New("port already used by another running service")
	ErrSpawn            = errors.New("process could not be started")
	ErrReadinessTimeout = errors.New("port was not bound within the retry budget")
	ErrReclaim          = errors.New("port could not be freed")
	ErrStopTimeout      = errors.New("port was still bound after the retry budget")
	ErrCatalog          = errors.New("catalog update failed")
	ErrInvalid          = errors.New("invalid service record")
	ErrInUse            = errors.New("port and path cannot change while the service holds its port")
)

var kindSentinels = map[Kind]error{
	KindNotFound:         ErrNotFound,
	KindBusy:             ErrBusy,
	KindPortConflict:     ErrPortConflict,
	KindSpawn:            ErrSpawn,
	KindReadinessTimeout: ErrReadinessTimeout,
	KindReclaim:          ErrReclaim,
	KindStopTimeout:      ErrStopTimeout,
	KindCatalog:          ErrCatalog,
	KindInvalid:          ErrInvalid,
	KindInUse:            ErrInUse,
}

// Error is a typed lifecycle failure.
type Error struct {
	Kind      Kind
	ServiceID string
	Op        string // "start", "stop", "refresh", "update" or "delete"
	Err       error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.ServiceID, kindSentinels[e.Kind])
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind Kind, id, op string, err error) *Error {
	return &Error{Kind: kind, ServiceID: id, Op: op, Err: err}
}

// KindOf returns the Kind of err, or "" if err is not a lifecycle error.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// MultiError accumulates errors from a batch of operations.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	}
	parts := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors occurred: %s", len(m.Errors), strings.Join(parts, "; "))
}

// Add appends err if it is not nil.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil when empty, otherwise m.
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error { return m.Errors }
