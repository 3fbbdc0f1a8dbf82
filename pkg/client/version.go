// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

// API version constants.
//
// ServiceDeck uses date-based API versioning. Each version represents the
// API as it existed on that date. The client sends the version via the
// ServiceDeck-Version header.
const (
	// LatestVersion is the current API version.
	LatestVersion = "2026-10-14"

	// Version20261014 is the initial API version.
	Version20261014 = "2026-10-14"
)

// VersionHeader is the HTTP header used to specify the API version.
const VersionHeader = "ServiceDeck-Version"
