// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDuration("", 5*time.Second))
	assert.Equal(t, 250*time.Millisecond, ParseDuration("250ms", time.Second))
	assert.Equal(t, time.Second, ParseDuration("garbage", time.Second))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	t.Setenv("SERVICEDECK_TEST_DIR", "/opt/deck")

	tests := []struct {
		name     string
		path     string
		base     string
		expected string
	}{
		{"empty", "", "/etc", ""},
		{"absolute", "/data/services.json", "/etc", "/data/services.json"},
		{"relative to base", "services.json", "/etc/deck", "/etc/deck/services.json"},
		{"relative no base", "services.json", "", "services.json"},
		{"home", "~/deck/services.json", "/etc", filepath.Join(home, "deck/services.json")},
		{"env var", "${SERVICEDECK_TEST_DIR}/catalog.db", "", "/opt/deck/catalog.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandPath(tt.path, tt.base))
		})
	}
}

func TestOptionalBools(t *testing.T) {
	var c CatalogConfig
	assert.True(t, c.IsWatching())
	off := false
	c.Watch = &off
	assert.False(t, c.IsWatching())

	var v ViewersConfig
	assert.True(t, v.IsBackfill())
	v.Backfill = &off
	assert.False(t, v.IsBackfill())
}
