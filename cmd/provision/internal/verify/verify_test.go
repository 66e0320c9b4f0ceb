// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

// recordingSleep captures requested pauses without waiting.
type recordingSleep struct {
	pauses []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.pauses = append(r.pauses, d)
	return ctx.Err()
}

func newTestVerifier(l Lister) (*Verifier, *recordingSleep) {
	rs := &recordingSleep{}
	v := New(l)
	v.sleep = rs.sleep
	return v, rs
}

func TestConfirm_TimedOutAfterBudget(t *testing.T) {
	reg := &registry.MockRegistry{Models: []string{"gemma2:2b"}}
	v, rs := newTestVerifier(reg)

	out := v.Confirm(context.Background(), "aleutian-assistant", 3, time.Second)
	assert.Equal(t, TimedOut, out.State)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, reg.Count("List"))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rs.pauses, "no sleep after the last attempt")
}

func TestConfirm_ConfirmedOnFirstPositivePoll(t *testing.T) {
	polls := 0
	reg := &registry.MockRegistry{
		ListFunc: func(ctx context.Context) ([]string, error) {
			polls++
			if polls < 2 {
				return []string{"gemma2:2b"}, nil
			}
			return []string{"gemma2:2b", "aleutian-assistant:latest"}, nil
		},
	}
	v, rs := newTestVerifier(reg)

	out := v.Confirm(context.Background(), "aleutian-assistant", 3, time.Second)
	assert.Equal(t, Confirmed, out.State)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 2, reg.Count("List"))
	assert.Len(t, rs.pauses, 1)
}

func TestConfirm_ListErrorCountsAsAttempt(t *testing.T) {
	reg := &registry.MockRegistry{
		ListFunc: func(ctx context.Context) ([]string, error) { return nil, errors.New("connection refused") },
	}
	v, _ := newTestVerifier(reg)

	out := v.Confirm(context.Background(), "m", 4, time.Second)
	assert.Equal(t, TimedOut, out.State)
	assert.Equal(t, 4, out.Attempts)
}

func TestConfirm_CancelReturnsTimedOutEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := &registry.MockRegistry{
		ListFunc: func(context.Context) ([]string, error) {
			cancel()
			return nil, nil
		},
	}
	v, _ := newTestVerifier(reg)

	out := v.Confirm(ctx, "m", 10, time.Second)
	assert.Equal(t, TimedOut, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, reg.Count("List"))
}

func TestConfirm_AlreadyCancelledIssuesNoListing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg := &registry.MockRegistry{}
	v, _ := newTestVerifier(reg)

	out := v.Confirm(ctx, "m", 3, time.Second)
	assert.Equal(t, TimedOut, out.State)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, 0, reg.Count("List"))
}

func TestConfirm_FloorsIntervalAndAttempts(t *testing.T) {
	reg := &registry.MockRegistry{}
	v, rs := newTestVerifier(reg)

	out := v.Confirm(context.Background(), "m", 0, 0)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, rs.pauses)

	out = v.Confirm(context.Background(), "m", 2, time.Nanosecond)
	require.Len(t, rs.pauses, 1)
	assert.Equal(t, 100*time.Millisecond, rs.pauses[0])
	assert.Equal(t, 2, out.Attempts)
}

func TestConfirm_RealSleepHonoursDeadline(t *testing.T) {
	reg := &registry.MockRegistry{}
	v := New(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := v.Confirm(ctx, "m", 100, time.Second)
	assert.Equal(t, TimedOut, out.State)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, 1, out.Attempts)
}

func TestVerificationState_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "confirmed", Confirmed.String())
	assert.Equal(t, "timed_out", TimedOut.String())
}
