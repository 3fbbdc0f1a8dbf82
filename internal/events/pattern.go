// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"errors"
	"strings"
)

// Match reports whether eventType matches pattern. Patterns are an exact
// type, "*", a prefix wildcard ("service.*") or a suffix wildcard
// ("*.stopped").
func Match(eventType, pattern string) bool {
	if pattern == "" || eventType == "" {
		return false
	}
	switch {
	case pattern == "*", pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, strings.TrimPrefix(pattern, "*"))
	}
	return false
}

// ValidatePattern rejects patterns Match can never satisfy.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty pattern")
	}
	if pattern == "*" {
		return nil
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(pattern, "*."), ".*")
	if strings.Contains(inner, "*") {
		return errors.New("wildcard only allowed as a whole first or last segment")
	}
	return nil
}
