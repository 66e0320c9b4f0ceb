// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import "time"

// Timeout floors and defaults for external calls.
const (
	// MinHTTPTimeout is the smallest timeout accepted for engine HTTP calls.
	MinHTTPTimeout = 1 * time.Second

	// MinProcessTimeout is the smallest timeout accepted for engine CLI calls.
	MinProcessTimeout = 5 * time.Second

	// MinPollInterval keeps the verification poll from spinning.
	MinPollInterval = 100 * time.Millisecond

	// DefaultHTTPTimeout applies to short engine HTTP calls (list, show).
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultPullTimeout applies to model pulls, which may take many minutes.
	DefaultPullTimeout = 60 * time.Minute

	// DefaultProcessTimeout applies to short CLI calls (list, create).
	DefaultProcessTimeout = 2 * time.Minute

	// DefaultGenerateTimeout bounds one shared completion call.
	DefaultGenerateTimeout = 5 * time.Minute
)

// EnforceMinTimeout returns requested, or minimum when requested is unset or too small.
//
// # Example
//
//	EnforceMinTimeout(0, MinHTTPTimeout)                // 1s
//	EnforceMinTimeout(500*time.Millisecond, time.Second) // 1s
//	EnforceMinTimeout(10*time.Second, time.Second)       // 10s
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns requested, or defaultVal when requested is unset.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
