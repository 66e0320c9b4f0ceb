// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inference

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

// Response is one completion and where it came from.
type Response struct {
	Text string

	// Cached is true when Text came from the Store without an engine call.
	Cached bool

	// Shared is true when this caller waited on another caller's engine call.
	Shared bool
}

// Cache fronts an Engine with a Store and per-fingerprint call coalescing.
//
// # Description
//
// At most one engine call per fingerprint is in flight at any time. Callers
// that arrive while a call is running wait for it and receive its result.
// Successful responses are written to the Store; failures are not.
//
// The shared engine call is detached from any one caller's cancellation and
// bounded by the call timeout instead. Each caller stops waiting when its own
// context ends; the call itself keeps running for the others.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	store   Store
	engine  Engine
	metrics *Metrics
	options map[string]string
	group   singleflight.Group

	callTimeout time.Duration
}

// NewCache builds a Cache. options are folded into every fingerprint, so
// changing e.g. the system prompt invalidates earlier entries.
func NewCache(store Store, engine Engine, metrics *Metrics, options map[string]string) *Cache {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Cache{
		store:       store,
		engine:      engine,
		metrics:     metrics,
		options:     options,
		callTimeout: util.DefaultGenerateTimeout,
	}
}

// WithCallTimeout sets the bound on one shared engine call. Values <= 0
// keep the default.
func (c *Cache) WithCallTimeout(d time.Duration) *Cache {
	c.callTimeout = util.EnforceDefaultTimeout(d, util.DefaultGenerateTimeout)
	return c
}

// Generate returns a cached or freshly generated completion.
func (c *Cache) Generate(ctx context.Context, model, prompt string) (Response, error) {
	start := time.Now()
	key := Fingerprint(model, prompt, c.options)

	if text, ok := c.lookup(ctx, key); ok {
		c.metrics.cacheLookups.WithLabelValues(model, "hit").Inc()
		c.metrics.requestDuration.WithLabelValues(model, "true").Observe(time.Since(start).Seconds())
		return Response{Text: text, Cached: true}, nil
	}
	c.metrics.cacheLookups.WithLabelValues(model, "miss").Inc()

	// The flight outlives its callers, so a caller already gone must not start one.
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()
		return c.fetch(callCtx, key, model, prompt)
	})

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		resp := res.Val.(Response)
		resp.Shared = res.Shared
		c.metrics.requestDuration.WithLabelValues(model, "false").Observe(time.Since(start).Seconds())
		return resp, nil
	}
}

// fetch is the body of one shared flight.
func (c *Cache) fetch(ctx context.Context, key, model, prompt string) (Response, error) {
	// A flight that finished between our lookup and DoChan may have filled the store.
	if text, ok := c.lookup(ctx, key); ok {
		return Response{Text: text, Cached: true}, nil
	}

	c.metrics.inFlight.Inc()
	text, err := c.engine.Generate(ctx, model, prompt)
	c.metrics.inFlight.Dec()
	if err != nil {
		c.metrics.upstreamCalls.WithLabelValues(model, "error").Inc()
		return Response{}, err
	}
	c.metrics.upstreamCalls.WithLabelValues(model, "success").Inc()

	if perr := c.store.Put(ctx, key, text); perr != nil {
		slog.Warn("Failed to store cached response", "model", model, "error", perr)
	}
	return Response{Text: text}, nil
}

func (c *Cache) lookup(ctx context.Context, key string) (string, bool) {
	text, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Cache lookup failed, treating as miss", "error", err)
		return "", false
	}
	return text, ok
}
