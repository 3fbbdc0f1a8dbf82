// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the supervisor's components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wingedpig/servicedeck/internal/api"
	"github.com/wingedpig/servicedeck/internal/api/handlers"
	"github.com/wingedpig/servicedeck/internal/catalog"
	"github.com/wingedpig/servicedeck/internal/config"
	"github.com/wingedpig/servicedeck/internal/events"
	"github.com/wingedpig/servicedeck/internal/hub"
	"github.com/wingedpig/servicedeck/internal/lifecycle"
	"github.com/wingedpig/servicedeck/internal/logs"
	"github.com/wingedpig/servicedeck/internal/metrics"
	"github.com/wingedpig/servicedeck/internal/ports"
	"gopkg.in/natefinch/lumberjack.v2"
)

// App is the main application container.
type App struct {
	mu sync.Mutex

	configPath string // Path to config file; empty when running on defaults
	version    string // Application version string
	config     *config.Config
	logFile    io.Closer // rotating diagnostic log, nil when logging to stderr only

	metrics    *metrics.Metrics
	store      catalog.Store
	eventBus   *events.MemoryBus
	hub        *hub.Hub
	sink       *logs.Sink
	controller *lifecycle.Controller
	groups     *lifecycle.GroupOrchestrator
	apiServer  *api.Server

	serveErr chan error
	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Version    string // Application version string
}

// New loads configuration and sets up logging. Components are built by
// Initialize.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		serveErr:   make(chan error, 1),
		done:       make(chan struct{}),
	}

	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	app.config = cfg

	app.logFile = setupLogging(cfg.Logging)

	app.eventBus = events.NewMemoryBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.MaxAge, time.Hour),
	})

	return app, nil
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		found, err := loader.FindConfig()
		if err != nil {
			log.Printf("No config file found, using defaults")
			return config.Default(), nil
		}
		path = found
	}
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("Loaded config from %s", path)
	return cfg, nil
}

// setupLogging sends the standard logger to stderr and, when a file is
// configured, to a size-rotated copy of it.
func setupLogging(cfg config.LoggingConfig) io.Closer {
	if cfg.File == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

// Config returns the effective configuration.
func (app *App) Config() *config.Config {
	return app.config
}

// Initialize builds every component and reconciles the catalog against the
// ports that are actually bound.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	app.metrics = metrics.New(nil)

	store, err := catalog.Open(ctx, cfg.Catalog.Driver, cfg.Catalog.Path, cfg.Catalog.IsWatching())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	app.store = store
	log.Printf("Using %s catalog at %s", cfg.Catalog.Driver, cfg.Catalog.Path)

	app.hub = hub.New(context.Background(), hub.Config{
		PingInterval:  config.ParseDuration(cfg.Viewers.PingInterval, 30*time.Second),
		DefaultBuffer: cfg.Viewers.DefaultBuffer,
	}, app.metrics)
	app.sink = logs.NewSink(app.hub, app.metrics)

	prober := ports.NewSystemProber()
	lcCfg := lifecycle.Config{
		PollInterval:   config.ParseDuration(cfg.Lifecycle.PollInterval, time.Second),
		MaxAttempts:    cfg.Lifecycle.MaxAttempts,
		ReclaimTimeout: config.ParseDuration(cfg.Lifecycle.ReclaimTimeout, 3*time.Second),
		ReclaimSettle:  config.ParseDuration(cfg.Lifecycle.ReclaimSettle, time.Second),
	}
	launcher := lifecycle.NewProcessLauncher(lifecycle.LauncherConfig{
		DefaultCommand: cfg.Lifecycle.DefaultCommand,
		Env:            cfg.Lifecycle.Env,
	}, app.sink, app.metrics)

	app.controller = lifecycle.NewController(lcCfg, lifecycle.Deps{
		Store:     store,
		Prober:    prober,
		Reclaimer: ports.NewReclaimer(prober, 100*time.Millisecond),
		Launcher:  launcher,
		Sink:      app.sink,
		Bus:       app.eventBus,
		Metrics:   app.metrics,
	})
	app.groups = lifecycle.NewGroupOrchestrator(store, app.controller, app.eventBus)

	if res, err := app.controller.RefreshAll(ctx); err != nil {
		log.Printf("Warning: initial status refresh failed: %v", err)
	} else {
		bound := 0
		for _, r := range res {
			if r.Bound {
				bound++
			}
		}
		log.Printf("Catalog has %d services, %d with a bound port", len(res), bound)
	}

	app.apiServer = api.NewServer(api.ServerConfig{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		TLSCert: cfg.Server.TLSCert,
		TLSKey:  cfg.Server.TLSKey,
	}, api.Dependencies{
		Store:     store,
		Lifecycle: app.controller,
		Groups:    app.groups,
		Prober:    prober,
		Hub:       app.hub,
		EventBus:  app.eventBus,
		LogSink:   app.sink,
		LogStream: handlers.LogStreamConfig{
			QueueSize: cfg.Viewers.QueueSize,
			Backfill:  cfg.Viewers.IsBackfill(),
			KeepAlive: config.ParseDuration(cfg.Viewers.PingInterval, 30*time.Second),
		},
		Metrics: app.metrics.Handler(),
		Version: app.version,
	})

	return nil
}

// Handler returns the API handler. Valid after Initialize.
func (app *App) Handler() http.Handler {
	return app.apiServer.Router()
}

// Start starts the API server in the background.
func (app *App) Start(ctx context.Context) error {
	go func() {
		log.Printf("Starting API server on %s", app.apiServer.Addr())
		if err := app.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API server error: %v", err)
			app.serveErr <- err
		}
	}()
	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	case runErr = <-app.serveErr:
	}

	if err := app.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components. Managed services keep
// running; their status stays in the catalog for the next start.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs lifecycle.MultiError

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
			errs.Add(err)
		}
	}

	// Disconnect viewers before closing the files feeding them
	if app.hub != nil {
		app.hub.Close()
	}
	if app.sink != nil {
		if err := app.sink.Close(); err != nil {
			log.Printf("Error closing log sink: %v", err)
			errs.Add(err)
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Printf("Error closing catalog: %v", err)
			errs.Add(err)
		}
	}

	// Close event bus
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	log.Println("Shutdown complete")
	if app.logFile != nil {
		log.SetOutput(os.Stderr)
		app.logFile.Close()
		app.logFile = nil
	}
	return errs.Err()
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
