// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package version implements date-based API versioning for the ServiceDeck
// API. Clients pin a version with the ServiceDeck-Version header; requests
// without it get the latest version.
package version

import "context"

// Version constants. Add new versions here when making breaking changes.
const (
	// Version20261014 is the initial API version.
	Version20261014 = "2026-10-14"
)

// LatestVersion is the current default API version.
var LatestVersion = Version20261014

// Header is the HTTP header used to specify the API version.
const Header = "ServiceDeck-Version"

type contextKey string

const versionKey contextKey = "api-version"

// FromContext returns the API version from the context.
// Returns LatestVersion if not set.
func FromContext(ctx context.Context) string {
	v, ok := ctx.Value(versionKey).(string)
	if !ok || v == "" {
		return LatestVersion
	}
	return v
}

// WithContext returns a new context with the API version set.
func WithContext(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, versionKey, version)
}
