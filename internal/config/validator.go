// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// allowedBuffers mirrors logs.AllowedBufferSizes.
var allowedBuffers = map[int]bool{100: true, 500: true, 1000: true, 2000: true, 5000: true}

// Validate checks configuration validity. It expects defaults to have been
// applied.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateCatalog(cfg, errs)
	v.validateLifecycle(cfg, errs)
	v.validateViewers(cfg, errs)
	v.validateEvents(cfg, errs)
	v.validateLogging(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535")
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		errs.Add("server.tls_cert", "tls_cert and tls_key must be set together")
	}
}

func (v *Validator) validateCatalog(cfg *Config, errs *ValidationError) {
	switch cfg.Catalog.Driver {
	case "json", "sqlite":
	default:
		errs.Add("catalog.driver", fmt.Sprintf("must be 'json' or 'sqlite', got '%s'", cfg.Catalog.Driver))
	}
	if cfg.Catalog.Path == "" {
		errs.Add("catalog.path", "is required")
	}
	if cfg.Catalog.Driver == "sqlite" && cfg.Catalog.Watch != nil && *cfg.Catalog.Watch {
		errs.Add("catalog.watch", "is only supported by the json driver")
	}
}

func (v *Validator) validateLifecycle(cfg *Config, errs *ValidationError) {
	lc := cfg.Lifecycle
	validateDuration(errs, "lifecycle.poll_interval", lc.PollInterval, true)
	validateDuration(errs, "lifecycle.reclaim_timeout", lc.ReclaimTimeout, true)
	validateDuration(errs, "lifecycle.reclaim_settle", lc.ReclaimSettle, true)
	if lc.MaxAttempts < 1 {
		errs.Add("lifecycle.max_attempts", "must be at least 1")
	}
	if strings.TrimSpace(lc.DefaultCommand) == "" {
		errs.Add("lifecycle.default_command", "is required")
	}
	for i, kv := range lc.Env {
		if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
			errs.Add(fmt.Sprintf("lifecycle.env[%d]", i), fmt.Sprintf("must be KEY=VALUE, got '%s'", kv))
		}
	}
}

func (v *Validator) validateViewers(cfg *Config, errs *ValidationError) {
	validateDuration(errs, "viewers.ping_interval", cfg.Viewers.PingInterval, false)
	if !allowedBuffers[cfg.Viewers.DefaultBuffer] {
		errs.Add("viewers.default_buffer", fmt.Sprintf("must be one of 100, 500, 1000, 2000, 5000, got %d", cfg.Viewers.DefaultBuffer))
	}
	if cfg.Viewers.QueueSize < 1 {
		errs.Add("viewers.queue_size", "must be at least 1")
	}
}

func (v *Validator) validateEvents(cfg *Config, errs *ValidationError) {
	if cfg.Events.MaxEvents < 1 {
		errs.Add("events.max_events", "must be at least 1")
	}
	validateDuration(errs, "events.max_age", cfg.Events.MaxAge, false)
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.MaxSizeMB < 0 {
		errs.Add("logging.max_size_mb", "must not be negative")
	}
	if cfg.Logging.MaxBackups < 0 {
		errs.Add("logging.max_backups", "must not be negative")
	}
	if cfg.Logging.MaxAgeDays < 0 {
		errs.Add("logging.max_age_days", "must not be negative")
	}
}

func validateDuration(errs *ValidationError, field, value string, allowZero bool) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid duration '%s'", value))
		return
	}
	if d < 0 || (!allowZero && d == 0) {
		errs.Add(field, "must be positive")
	}
}
