// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wingedpig/servicedeck/internal/api/version"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/lifecycle"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
}

// Common error codes
const (
	ErrNotFound      = "NOT_FOUND"
	ErrBadRequest    = "BAD_REQUEST"
	ErrInternalError = "INTERNAL_ERROR"
	ErrConflict      = "CONFLICT"
	ErrServiceError  = "SERVICE_ERROR"
	ErrTimeout       = "TIMEOUT"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := Response{
		Data: data,
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeVersioned writes data after applying the transformer registered for
// the request's API version and endpoint. With a single API version this is
// a pass-through; endpoint names are the keys future transformers use.
func writeVersioned(w http.ResponseWriter, r *http.Request, endpoint string, status int, data interface{}) {
	WriteJSON(w, status, version.Transform(version.FromContext(r.Context()), endpoint, data))
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithDetails(w, status, code, message, nil)
}

// WriteErrorWithDetails writes an error response with details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeLifecycleError maps controller and catalog failures to HTTP statuses.
func writeLifecycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	kind := lifecycle.KindOf(err)
	details := map[string]interface{}{"kind": string(kind)}
	switch kind {
	case lifecycle.KindNotFound:
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case lifecycle.KindInvalid:
		WriteErrorWithDetails(w, http.StatusBadRequest, ErrBadRequest, err.Error(), details)
	case lifecycle.KindBusy, lifecycle.KindPortConflict, lifecycle.KindInUse:
		WriteErrorWithDetails(w, http.StatusConflict, ErrConflict, err.Error(), details)
	case lifecycle.KindReadinessTimeout, lifecycle.KindStopTimeout:
		WriteErrorWithDetails(w, http.StatusGatewayTimeout, ErrTimeout, err.Error(), details)
	case lifecycle.KindSpawn, lifecycle.KindReclaim:
		WriteErrorWithDetails(w, http.StatusBadRequest, ErrServiceError, err.Error(), details)
	default:
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
	}
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
