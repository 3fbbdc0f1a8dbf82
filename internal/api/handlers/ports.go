// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/wingedpig/servicedeck/internal/ports"
)

// PortHandler exposes raw port probes.
type PortHandler struct {
	prober ports.Prober
}

// NewPortHandler creates a new port handler.
func NewPortHandler(prober ports.Prober) *PortHandler {
	return &PortHandler{prober: prober}
}

// Probe reports whether anything listens on the port.
func (h *PortHandler) Probe(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(mux.Vars(r)["port"])
	if err != nil || port < 1 || port > 65535 {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "port must be between 1 and 65535")
		return
	}
	res, err := h.prober.Probe(r.Context(), port)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, res)
}
