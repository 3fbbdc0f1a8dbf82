// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and validation.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for ServiceDeck.
type Config struct {
	Version   string          `json:"version"`
	Server    ServerConfig    `json:"server"`
	Catalog   CatalogConfig   `json:"catalog"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Viewers   ViewersConfig   `json:"viewers"`
	Events    EventsConfig    `json:"events"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
}

// CatalogConfig selects the service catalog backend.
type CatalogConfig struct {
	Driver string `json:"driver"` // "json" or "sqlite"
	Path   string `json:"path"`
	Watch  *bool  `json:"watch"` // reload the JSON file on external edits
}

// IsWatching returns whether the JSON catalog should be watched.
func (c *CatalogConfig) IsWatching() bool {
	if c.Watch == nil {
		return true
	}
	return *c.Watch
}

// LifecycleConfig holds start/stop timing.
type LifecycleConfig struct {
	PollInterval   string   `json:"poll_interval"`
	MaxAttempts    int      `json:"max_attempts"`
	ReclaimTimeout string   `json:"reclaim_timeout"`
	ReclaimSettle  string   `json:"reclaim_settle"`
	DefaultCommand string   `json:"default_command"`
	Env            []string `json:"env"` // extra KEY=VALUE entries for launched services
}

// ViewersConfig configures live log viewers.
type ViewersConfig struct {
	PingInterval  string `json:"ping_interval"`
	DefaultBuffer int    `json:"default_buffer"`
	QueueSize     int    `json:"queue_size"`
	Backfill      *bool  `json:"backfill"`
}

// IsBackfill returns whether new viewers are seeded from the log file.
func (v *ViewersConfig) IsBackfill() bool {
	if v.Backfill == nil {
		return true
	}
	return *v.Backfill
}

// EventsConfig configures the lifecycle event history.
type EventsConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// LoggingConfig configures the supervisor's own diagnostic log.
type LoggingConfig struct {
	File       string `json:"file"` // empty logs to stderr only
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// ParseDuration parses a duration string, returning a default if empty.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// ExpandPath expands a leading ~ and environment variables in path, and
// resolves relative paths against base when base is not empty.
func ExpandPath(path, base string) string {
	if path == "" {
		return path
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	if base != "" && !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	return path
}
