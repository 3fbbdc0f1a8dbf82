// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes HJSON (or plain JSON) configuration bytes.
func Parse(data []byte) (*Config, error) {
	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied. Relative
// catalog and log paths are resolved against the config file's directory.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	base := filepath.Dir(path)
	cfg.Catalog.Path = ExpandPath(cfg.Catalog.Path, base)
	cfg.Logging.File = ExpandPath(cfg.Logging.File, base)
	cfg.Server.TLSCert = ExpandPath(cfg.Server.TLSCert, base)
	cfg.Server.TLSKey = ExpandPath(cfg.Server.TLSKey, base)
	return cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FindConfig searches for a config file in the current directory.
// It looks for servicedeck.hjson first, then servicedeck.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"servicedeck.hjson",
		"servicedeck.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for servicedeck.hjson, servicedeck.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3300
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// Catalog defaults
	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = "json"
	}
	if cfg.Catalog.Path == "" {
		if cfg.Catalog.Driver == "sqlite" {
			cfg.Catalog.Path = "servicedeck.db"
		} else {
			cfg.Catalog.Path = "services.json"
		}
	}

	// Lifecycle defaults
	if cfg.Lifecycle.PollInterval == "" {
		cfg.Lifecycle.PollInterval = "1s"
	}
	if cfg.Lifecycle.MaxAttempts == 0 {
		cfg.Lifecycle.MaxAttempts = 10
	}
	if cfg.Lifecycle.ReclaimTimeout == "" {
		cfg.Lifecycle.ReclaimTimeout = "3s"
	}
	if cfg.Lifecycle.ReclaimSettle == "" {
		cfg.Lifecycle.ReclaimSettle = "1s"
	}
	if cfg.Lifecycle.DefaultCommand == "" {
		cfg.Lifecycle.DefaultCommand = "yarn start"
	}

	// Viewer defaults
	if cfg.Viewers.PingInterval == "" {
		cfg.Viewers.PingInterval = "30s"
	}
	if cfg.Viewers.DefaultBuffer == 0 {
		cfg.Viewers.DefaultBuffer = 1000
	}
	if cfg.Viewers.QueueSize == 0 {
		cfg.Viewers.QueueSize = 256
	}

	// Events defaults
	if cfg.Events.MaxEvents == 0 {
		cfg.Events.MaxEvents = 1000
	}
	if cfg.Events.MaxAge == "" {
		cfg.Events.MaxAge = "1h"
	}

	// Logging defaults
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 28
	}
}
