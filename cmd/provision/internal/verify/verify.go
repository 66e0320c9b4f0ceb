// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify polls the engine until a freshly created model is listed.
//
// The engine has no completion event for create, so confirmation is a
// bounded poll. Cancellation and budget exhaustion take the same exit and
// both yield TimedOut.
package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

// VerificationState is the outcome of confirming a derived model.
type VerificationState int

const (
	Pending VerificationState = iota
	Confirmed
	TimedOut
)

// String returns the state name for logs.
func (s VerificationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Outcome reports the final state and how many listings were issued.
type Outcome struct {
	State    VerificationState `json:"state"`
	Attempts int               `json:"attempts"`
}

// Lister is the slice of registry.Registry the verifier needs.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Verifier owns VerificationState for one derived model.
type Verifier struct {
	lister Lister
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Verifier. Listings are never cached.
func New(lister Lister) *Verifier {
	return &Verifier{lister: lister, sleep: sleepContext}
}

// Confirm polls for modelID up to maxAttempts times.
//
// # Description
//
// Each attempt issues one fresh listing. The first listing containing
// modelID yields Confirmed. A listing error counts as an unconfirmed
// attempt. The verifier sleeps interval between attempts, never after the
// last one. When ctx ends before confirmation the result is TimedOut,
// without issuing further listings.
//
// # Inputs
//
//   - modelID: derived model identifier (":latest" canonicalisation applies)
//   - maxAttempts: attempt budget; values below 1 are treated as 1
//   - interval: pause between attempts, floored at util.MinPollInterval
//
// # Outputs
//
//   - Outcome: Confirmed or TimedOut, with Attempts <= maxAttempts
func (v *Verifier) Confirm(ctx context.Context, modelID string, maxAttempts int, interval time.Duration) Outcome {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	interval = util.EnforceMinTimeout(interval, util.MinPollInterval)

	out := Outcome{State: Pending}
	for out.Attempts < maxAttempts {
		if ctx.Err() != nil {
			break
		}
		out.Attempts++

		names, err := v.lister.List(ctx)
		switch {
		case err != nil:
			slog.Debug("Verification listing failed", "model", modelID, "attempt", out.Attempts, "error", err)
		case registry.Contains(names, modelID):
			out.State = Confirmed
			slog.Info("Derived model confirmed", "model", modelID, "attempts", out.Attempts)
			return out
		default:
			slog.Debug("Derived model not listed yet", "model", modelID, "attempt", out.Attempts)
		}

		if out.Attempts < maxAttempts {
			if err := v.sleep(ctx, interval); err != nil {
				break
			}
		}
	}

	out.State = TimedOut
	slog.Warn("Derived model not confirmed", "model", modelID, "attempts", out.Attempts, "max_attempts", maxAttempts)
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
