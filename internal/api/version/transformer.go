// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package version

import "sync"

// Transformer rewrites response data of the latest version into the shape
// an older version expects.
//
// Only one API version exists, so no transformer is registered and every
// response passes through unchanged. When a breaking change introduces a new
// version, the previous version registers its transformers here and the
// handlers that call writeVersioned pick them up.
type Transformer func(data interface{}) interface{}

var (
	mu sync.RWMutex
	// version -> endpoint -> transformer
	transformers = map[string]map[string]Transformer{}
)

// Transform applies the transformer registered for version and endpoint.
// Data is returned unchanged for the latest version, unknown versions and
// endpoints without a transformer.
func Transform(version, endpoint string, data interface{}) interface{} {
	if version == LatestVersion {
		return data
	}
	mu.RLock()
	t, ok := transformers[version][endpoint]
	mu.RUnlock()
	if !ok {
		return data
	}
	return t(data)
}

// RegisterTransformer adds a transformer for a specific version and endpoint,
// e.g. RegisterTransformer("2026-10-14", "services.get", fn).
func RegisterTransformer(version, endpoint string, t Transformer) {
	mu.Lock()
	defer mu.Unlock()
	if transformers[version] == nil {
		transformers[version] = make(map[string]Transformer)
	}
	transformers[version][endpoint] = t
}
