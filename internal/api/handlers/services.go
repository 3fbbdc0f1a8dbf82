// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/lifecycle"
	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/ports"
)

// Lifecycle is the controller surface the service handlers use.
// *lifecycle.Controller implements it.
type Lifecycle interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) (ports.Result, error)
	RefreshAll(ctx context.Context) (map[string]ports.Result, error)
	Status(id string) lifecycle.Status
	UpdateService(ctx context.Context, id string, mutate func(*catalog.Service)) (catalog.Service, error)
	Delete(ctx context.Context, id string) error
}

// LogForgetter drops per-service log state. *logs.Sink implements it.
type LogForgetter interface {
	Forget(serviceID string)
}

// ServiceView is a catalog record plus the controller's live view.
type ServiceView struct {
	catalog.Service
	State     lifecycle.State `json:"state"`
	LastError string          `json:"lastError,omitempty"`
	PID       int             `json:"pid,omitempty"`
	Probe     *ports.Result   `json:"probe,omitempty"`
}

// serviceRequest holds the descriptive fields a client may set.
type serviceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Port        int    `json:"port"`
	Path        string `json:"path"`
	Command     string `json:"command"`
}

func (req serviceRequest) apply(svc *catalog.Service) {
	svc.Name = req.Name
	svc.Description = req.Description
	svc.Port = req.Port
	svc.Path = req.Path
	svc.Command = req.Command
}

// ServiceHandler handles service-related API requests.
type ServiceHandler struct {
	store catalog.Store
	lc    Lifecycle
	sink  LogForgetter
}

// NewServiceHandler creates a new service handler. sink may be nil.
func NewServiceHandler(store catalog.Store, lc Lifecycle, sink LogForgetter) *ServiceHandler {
	return &ServiceHandler{store: store, lc: lc, sink: sink}
}

func (h *ServiceHandler) view(svc catalog.Service, probe *ports.Result) ServiceView {
	st := h.lc.Status(svc.ID)
	return ServiceView{
		Service:   svc,
		State:     st.State,
		LastError: st.LastError,
		PID:       st.PID,
		Probe:     probe,
	}
}

// List returns all services after reconciling their status with the ports.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	results, err := h.lc.RefreshAll(r.Context())
	if err != nil {
		log.Printf("Services: refresh: %v", err)
	}

	services, err := h.store.ListServices(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	views := make([]ServiceView, 0, len(services))
	for _, svc := range services {
		var probe *ports.Result
		if res, ok := results[svc.ID]; ok {
			probe = &res
		}
		views = append(views, h.view(svc, probe))
	}
	writeVersioned(w, r, "services.list", http.StatusOK, views)
}

// Get returns a single service with a fresh probe.
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var probe *ports.Result
	res, err := h.lc.Refresh(r.Context(), id)
	switch {
	case err == nil:
		probe = &res
	case lifecycle.KindOf(err) == lifecycle.KindNotFound:
		WriteError(w, http.StatusNotFound, ErrNotFound, "service not found")
		return
	case lifecycle.KindOf(err) == lifecycle.KindBusy:
		// Transition in flight, report the catalog as is.
	default:
		log.Printf("Services: refresh %s: %v", id, err)
	}

	svc, err := h.store.GetService(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeVersioned(w, r, "services.get", http.StatusOK, h.view(svc, probe))
}

// Create adds a service. New services start out stopped.
func (h *ServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	var svc catalog.Service
	req.apply(&svc)
	svc.Status = catalog.StatusStopped
	if err := svc.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	created, err := h.store.UpsertService(r.Context(), svc)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	log.Printf("Services: created %s (%s) on port %d", created.Name, created.ID, created.Port)
	WriteJSON(w, http.StatusCreated, h.view(created, nil))
}

// Update replaces the descriptive fields of a service. Status and the
// start/stop timestamps are owned by the controller and are kept.
func (h *ServiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}

	updated, err := h.lc.UpdateService(r.Context(), id, req.apply)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.view(updated, nil))
}

// Delete stops the service, then removes it from the catalog and from every
// group. A stop that times out does not prevent deletion.
func (h *ServiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Use background context - stop should complete even if request is cancelled
	if err := h.lc.Delete(context.Background(), id); err != nil {
		writeLifecycleError(w, err)
		return
	}
	if h.sink != nil {
		h.sink.Forget(id)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":      id,
		"deleted": true,
	})
}

// Start starts a service and returns its record once the port is bound.
func (h *ServiceHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lc.Start)
}

// Stop stops a service and returns its record once the port is free.
func (h *ServiceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lc.Stop)
}

func (h *ServiceHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := mux.Vars(r)["id"]

	// Use background context - the transition outlives the HTTP request
	if err := fn(context.Background(), id); err != nil {
		writeLifecycleError(w, err)
		return
	}

	svc, err := h.store.GetService(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.view(svc, nil))
}

// Refresh re-probes the service's port and reconciles its status.
func (h *ServiceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	res, err := h.lc.Refresh(r.Context(), id)
	if err != nil && !isProbeError(err) {
		writeLifecycleError(w, err)
		return
	}

	svc, gerr := h.store.GetService(r.Context(), id)
	if gerr != nil {
		writeLifecycleError(w, gerr)
		return
	}
	view := h.view(svc, &res)
	if err != nil {
		view.LastError = err.Error()
	}
	WriteJSON(w, http.StatusOK, view)
}

// isProbeError reports whether err came from the prober rather than the
// controller; the status has been recorded as unknown in that case.
func isProbeError(err error) bool {
	var le *lifecycle.Error
	return !errors.As(err, &le)
}

// Logs returns the tail of the service's durable log file.
func (h *ServiceHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	svc, err := h.store.GetService(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}

	// Parse lines parameter
	lines := 100 // default
	if linesStr := r.URL.Query().Get("lines"); linesStr != "" {
		n, err := strconv.Atoi(linesStr)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, ErrBadRequest, "lines must be a positive integer")
			return
		}
		lines = n
	}
	if lines > maxTailLines {
		lines = maxTailLines
	}

	entries, err := logs.TailEntries(svc.LogPath(), lines)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	if entries == nil {
		entries = []logs.Entry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service": id,
		"path":    svc.LogPath(),
		"entries": entries,
	})
}

const maxTailLines = 10000
