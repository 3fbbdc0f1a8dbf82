// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/lifecycle"
)

// GroupRunner starts and stops whole groups.
// *lifecycle.GroupOrchestrator implements it.
type GroupRunner interface {
	StartGroup(ctx context.Context, groupID string) (*lifecycle.GroupReport, error)
	StopGroup(ctx context.Context, groupID string) (*lifecycle.GroupReport, error)
}

// GroupHandler handles group-related API requests.
type GroupHandler struct {
	store  catalog.Store
	runner GroupRunner
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(store catalog.Store, runner GroupRunner) *GroupHandler {
	return &GroupHandler{store: store, runner: runner}
}

type groupRequest struct {
	Name string `json:"name"`
}

func (req groupRequest) valid() bool {
	return strings.TrimSpace(req.Name) != ""
}

// List returns all groups.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListGroups(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	writeVersioned(w, r, "groups.list", http.StatusOK, groups)
}

// Get returns a single group.
func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	g, err := h.store.GetGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeVersioned(w, r, "groups.get", http.StatusOK, g)
}

// Create adds an empty group.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil || !req.valid() {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "name is required")
		return
	}
	g, err := h.store.CreateGroup(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, g)
}

// Rename changes a group's name.
func (h *GroupHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil || !req.valid() {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "name is required")
		return
	}
	if err := h.store.RenameGroup(r.Context(), id, strings.TrimSpace(req.Name)); err != nil {
		writeLifecycleError(w, err)
		return
	}
	h.Get(w, r)
}

// Delete removes a group. Its services are left alone.
func (h *GroupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteGroup(r.Context(), id); err != nil {
		writeLifecycleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}

// AddMember adds a service to a group.
func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.AddMember(r.Context(), vars["id"], vars["sid"]); err != nil {
		writeLifecycleError(w, err)
		return
	}
	h.Get(w, r)
}

// RemoveMember removes a service from a group.
func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.RemoveMember(r.Context(), vars["id"], vars["sid"]); err != nil {
		writeLifecycleError(w, err)
		return
	}
	h.Get(w, r)
}

// Start starts every member of a group in order.
func (h *GroupHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.runner.StartGroup)
}

// Stop stops every member of a group in order.
func (h *GroupHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.runner.StopGroup)
}

// run returns 200 when every member succeeded and 207 otherwise; the
// report lists each member's outcome either way.
func (h *GroupHandler) run(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*lifecycle.GroupReport, error)) {
	// Use background context - member transitions outlive the HTTP request
	report, err := fn(context.Background(), mux.Vars(r)["id"])
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	status := http.StatusOK
	if report.Failed > 0 {
		status = http.StatusMultiStatus
	}
	WriteJSON(w, status, report)
}
