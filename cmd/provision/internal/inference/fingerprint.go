// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package inference runs prompts against the provisioned model with a shared
response cache and a bounded worker pool.

It is independent of provisioning: nothing here mutates the engine's model
store.

# Caching

Responses are keyed by Fingerprint, a SHA-256 over a length-prefixed
encoding of (model, prompt, options). Concurrent requests for the same
fingerprint share one upstream call (singleflight). Failed calls are never
cached.

# Backpressure

Runner.RunBatch caps in-flight engine calls with errgroup.SetLimit and can
additionally pace call starts with a token bucket (golang.org/x/time/rate).
Submission blocks while the pool is full; every input yields exactly one
Result, in input order.
*/
package inference

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"
)

// Fingerprint returns the hex SHA-256 cache key for a request.
//
// Each field is written as an 8-byte big-endian length followed by its
// bytes, so ("ab", "c") and ("a", "bc") never collide. Options are encoded
// in sorted key order.
func Fingerprint(model, prompt string, options map[string]string) string {
	h := sha256.New()
	writeField(h, "v1")
	writeField(h, model)
	writeField(h, prompt)

	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(h, k)
		writeField(h, options[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
