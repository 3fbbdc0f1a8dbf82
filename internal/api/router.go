// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the supervisor over HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/wingedpig/servicedeck/internal/api/handlers"
	"github.com/wingedpig/servicedeck/internal/api/middleware"
	"github.com/wingedpig/servicedeck/internal/api/version"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/events"
	"github.com/wingedpig/servicedeck/internal/hub"
	"github.com/wingedpig/servicedeck/internal/ports"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Store     catalog.Store
	Lifecycle handlers.Lifecycle
	Groups    handlers.GroupRunner
	Prober    ports.Prober
	Hub       *hub.Hub
	EventBus  events.Bus
	LogSink   handlers.LogForgetter // may be nil
	LogStream handlers.LogStreamConfig
	Metrics   http.Handler // served at /metrics when set
	Version   string       // Application version string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	logHandler := handlers.NewLogStreamHandler(deps.Store, deps.Hub, deps.LogStream)
	r.HandleFunc("/ws", logHandler.WebSocket).Methods("GET")

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods("GET")
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": deps.Version})
	}).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Service handlers
	serviceHandler := handlers.NewServiceHandler(deps.Store, deps.Lifecycle, deps.LogSink)
	api.HandleFunc("/services", serviceHandler.List).Methods("GET")
	api.HandleFunc("/services", serviceHandler.Create).Methods("POST")
	api.HandleFunc("/services/{id}", serviceHandler.Get).Methods("GET")
	api.HandleFunc("/services/{id}", serviceHandler.Update).Methods("PUT")
	api.HandleFunc("/services/{id}", serviceHandler.Delete).Methods("DELETE")
	api.HandleFunc("/services/{id}/start", serviceHandler.Start).Methods("POST")
	api.HandleFunc("/services/{id}/stop", serviceHandler.Stop).Methods("POST")
	api.HandleFunc("/services/{id}/refresh", serviceHandler.Refresh).Methods("POST")
	api.HandleFunc("/services/{id}/logs", serviceHandler.Logs).Methods("GET")
	api.HandleFunc("/services/{id}/logs/stream", logHandler.StreamSSE).Methods("GET")

	// Group handlers
	groupHandler := handlers.NewGroupHandler(deps.Store, deps.Groups)
	api.HandleFunc("/groups", groupHandler.List).Methods("GET")
	api.HandleFunc("/groups", groupHandler.Create).Methods("POST")
	api.HandleFunc("/groups/{id}", groupHandler.Get).Methods("GET")
	api.HandleFunc("/groups/{id}", groupHandler.Rename).Methods("PATCH")
	api.HandleFunc("/groups/{id}", groupHandler.Delete).Methods("DELETE")
	api.HandleFunc("/groups/{id}/members/{sid}", groupHandler.AddMember).Methods("POST")
	api.HandleFunc("/groups/{id}/members/{sid}", groupHandler.RemoveMember).Methods("DELETE")
	api.HandleFunc("/groups/{id}/start", groupHandler.Start).Methods("POST")
	api.HandleFunc("/groups/{id}/stop", groupHandler.Stop).Methods("POST")

	// Port probe
	portHandler := handlers.NewPortHandler(deps.Prober)
	api.HandleFunc("/ports/{port:[0-9]+}", portHandler.Probe).Methods("GET")

	// Event handlers
	if deps.EventBus != nil {
		eventHandler := handlers.NewEventHandler(deps.EventBus)
		api.HandleFunc("/events", eventHandler.History).Methods("GET")
		api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")
	}

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	s := &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe starts the server.
// If TLS is configured (tls_cert and tls_key), uses HTTPS.
func (s *Server) ListenAndServe() error {
	addr := s.server.Addr

	// Check if TLS is configured
	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(expandPath(s.cfg.TLSCert), expandPath(s.cfg.TLSKey))
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
