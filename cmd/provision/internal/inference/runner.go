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

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultWorkers is the pool size when RunnerConfig.Workers is unset.
const DefaultWorkers = 4

// RunnerConfig bounds batch concurrency.
type RunnerConfig struct {
	// Workers caps concurrent in-flight requests (default DefaultWorkers).
	Workers int

	// RatePerSecond paces request starts. Zero disables pacing.
	RatePerSecond float64

	// Burst is the token bucket size when pacing (default 1).
	Burst int
}

// Result is the outcome for one batch input.
type Result struct {
	Index    int           `json:"index"`
	Prompt   string        `json:"prompt"`
	Response string        `json:"response,omitempty"`
	Cached   bool          `json:"cached"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary accounts for a whole batch.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	CacheHits int `json:"cache_hits"`
}

// Runner executes prompt batches through a Cache.
type Runner struct {
	cache   *Cache
	workers int
	limiter *rate.Limiter
	metrics *Metrics
}

// NewRunner builds a Runner over cache.
func NewRunner(cache *Cache, cfg RunnerConfig) *Runner {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Runner{cache: cache, workers: workers, limiter: limiter, metrics: cache.metrics}
}

// Workers returns the pool size.
func (r *Runner) Workers() int {
	return r.workers
}

// Generate runs a single prompt through the cache.
func (r *Runner) Generate(ctx context.Context, model, prompt string) (Response, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
	}
	return r.cache.Generate(ctx, model, prompt)
}

// RunBatch runs prompts with at most Workers in flight.
//
// # Description
//
// Every prompt produces exactly one Result at its input index. A failing
// item records its error and does not stop the others. Once ctx ends, items
// not yet started are marked with ctx.Err() without calling the engine.
// RunBatch returns only after every started call has finished.
//
// # Outputs
//
//   - []Result: len(prompts) results ordered by Index
//   - Summary: success, failure and cache-hit counts
func (r *Runner) RunBatch(ctx context.Context, model string, prompts []string) ([]Result, Summary) {
	results := make([]Result, len(prompts))

	var g errgroup.Group
	g.SetLimit(r.workers)

	for i, prompt := range prompts {
		results[i] = Result{Index: i, Prompt: prompt}
		if ctx.Err() != nil {
			results[i].Err = ctx.Err()
			continue
		}

		g.Go(func() error {
			start := time.Now()
			resp, err := r.Generate(ctx, model, prompt)
			results[i].Duration = time.Since(start)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Response = resp.Text
			results[i].Cached = resp.Cached
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Total: len(results)}
	for _, res := range results {
		if res.Err != nil {
			sum.Failed++
			r.metrics.batchItems.WithLabelValues(model, "failed").Inc()
			continue
		}
		sum.Succeeded++
		if res.Cached {
			sum.CacheHits++
		}
		r.metrics.batchItems.WithLabelValues(model, "ok").Inc()
	}

	slog.Info("Batch complete", "model", model, "total", sum.Total, "succeeded", sum.Succeeded,
		"failed", sum.Failed, "cache_hits", sum.CacheHits, "workers", r.workers)
	return results, sum
}
