// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/config"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/infra/process"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/pipeline"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/selector"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/verify"
)

func TestOutcomeCode(t *testing.T) {
	tests := []struct {
		outcome pipeline.Outcome
		want    int
	}{
		{pipeline.OutcomeConfirmed, 0},
		{pipeline.OutcomePlanned, 0},
		{pipeline.OutcomeFailed, 1},
		{pipeline.OutcomeNoCandidate, 2},
		{pipeline.OutcomePullFailed, 3},
		{pipeline.OutcomeTimedOut, 4},
		{pipeline.OutcomeProbeError, 5},
		{pipeline.OutcomeCatalogError, 6},
		{pipeline.OutcomeCreationFailed, 7},
		{pipeline.Outcome("unknown"), 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeCode(tt.outcome))
		})
	}
}

func TestAcquireRunLock_SecondRunGetsLockHeldCode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	first, err := acquireRunLock(dir)
	require.NoError(t, err)
	defer first.Release()
	assert.FileExists(t, filepath.Join(dir, "aleutian-provision.lock"))

	_, err = acquireRunLock(dir)
	require.Error(t, err)
	assert.Equal(t, ExitLockHeld, exitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, ExitLockHeld, exitCode(withCode(ExitLockHeld, &process.ErrLockHeld{HolderPID: 42})))
	assert.Equal(t, ExitCatalogError, exitCode(fmt.Errorf("wrapped: %w", reported(ExitCatalogError, errors.New("bad")))))

	var ee *exitError
	require.ErrorAs(t, reported(ExitTimedOut, nil), &ee)
	assert.True(t, ee.reported)
	assert.Equal(t, "exit status 4", ee.Error())
}

func TestApplyFlags_OnlyChangedFlags(t *testing.T) {
	defer func(ram float64, gpu bool, attempts int, interval time.Duration) {
		assumeRAM, assumeGPU, maxAttempts, pollInterval = ram, gpu, attempts, interval
	}(assumeRAM, assumeGPU, maxAttempts, pollInterval)

	cfg := config.DefaultConfig(t.TempDir())
	assumeRAM = 6.5
	assumeGPU = true
	maxAttempts = 99
	pollInterval = 5 * time.Second

	changed := map[string]bool{"assume-ram": true, "interval": true}
	applyFlags(&cfg, func(name string) bool { return changed[name] })

	require.NotNil(t, cfg.Probe.AssumeRAMGiB)
	assert.Equal(t, 6.5, *cfg.Probe.AssumeRAMGiB)
	assert.Nil(t, cfg.Probe.AssumeGPU)
	assert.Equal(t, 5*time.Second, cfg.Verify.Interval)
	assert.Equal(t, 10, cfg.Verify.MaxAttempts)
}

func TestReadPrompts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.txt")
	require.NoError(t, os.WriteFile(path, []byte("first\n\n  second  \r\n\nthird"), 0o644))

	got, err := readPrompts(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, got)

	got, err = readPrompts(strings.NewReader("a\nb\n"), "-")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	_, err = readPrompts(nil, filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCatalogProblems(t *testing.T) {
	_, err := catalog.Parse([]byte("version: 1\nmodels:\n  - name: a\n    min_ram_gib: 0\n  - name: a\n    min_ram_gib: 1\n"))
	require.Error(t, err)

	problems := catalogProblems(err)
	assert.Len(t, problems, 2)
	for _, p := range problems {
		assert.Contains(t, p, "models[")
	}

	assert.Equal(t, []string{"plain failure"}, catalogProblems(errors.New("plain failure")))
}

func TestStartEngineServer(t *testing.T) {
	t.Run("already running", func(t *testing.T) {
		m := &process.MockManager{
			IsRunningFunc: func(context.Context, string) (bool, int, error) { return true, 77, nil },
		}
		require.NoError(t, startEngineServer(context.Background(), m, "ollama"))
		assert.Len(t, m.Calls(), 1)
		assert.Equal(t, "ollama serve", m.Calls()[0].Name)
	})

	t.Run("starts when absent", func(t *testing.T) {
		m := &process.MockManager{
			IsRunningFunc: func(context.Context, string) (bool, int, error) { return false, 0, nil },
			StartFunc:     func(context.Context, string, ...string) (int, error) { return 1234, nil },
		}
		require.NoError(t, startEngineServer(context.Background(), m, "ollama"))
		calls := m.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "Start", calls[1].Method)
		assert.Equal(t, []string{"serve"}, calls[1].Args)
	})

	t.Run("start failure", func(t *testing.T) {
		m := &process.MockManager{
			IsRunningFunc: func(context.Context, string) (bool, int, error) { return false, 0, errors.New("no pgrep") },
			StartFunc:     func(context.Context, string, ...string) (int, error) { return 0, errors.New("not found") },
		}
		err := startEngineServer(context.Background(), m, "ollama")
		assert.ErrorContains(t, err, "start ollama serve")
	})
}

func TestOutput_ReportText(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, "text")
	assert.False(t, out.tty)

	sel := catalog.ModelDescriptor{Name: "phi3:mini", MinRAMGiB: 3}
	out.report(&pipeline.Report{
		RunID:          "run-1",
		Capabilities:   probe.Capabilities{AvailableRAMGiB: 4, Platform: "linux"},
		Selection:      selector.Result{Selected: &sel},
		ArtifactPath:   "/tmp/Modelfile",
		DerivedModelID: "aleutian-assistant",
		Verification:   verify.Outcome{State: verify.Confirmed, Attempts: 1},
		Stages:         []string{pipeline.StageProbe},
		Durations:      map[string]time.Duration{pipeline.StageProbe: 3 * time.Millisecond},
		Outcome:        pipeline.OutcomeConfirmed,
	}, nil)

	text := buf.String()
	assert.Contains(t, text, "run-1")
	assert.Contains(t, text, "phi3:mini")
	assert.Contains(t, text, "/tmp/Modelfile")
	assert.Contains(t, text, "aleutian-assistant is ready")
}

func TestOutput_ReportJSON(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, "json")

	nc := selector.NoCandidate{Constraint: selector.InsufficientRAM, AvailableRAMGiB: 0.5, RequiredRAMGiB: 1.2}
	runErr := &pipeline.StageError{Stage: pipeline.StageSelect, Err: &pipeline.NoCandidateError{NoCandidate: nc}}
	out.report(&pipeline.Report{
		RunID:     "run-2",
		Selection: selector.Result{NoCandidate: &nc},
		Durations: map[string]time.Duration{},
		Outcome:   pipeline.OutcomeNoCandidate,
	}, runErr)

	text := buf.String()
	assert.Contains(t, text, `"outcome": "no_candidate"`)
	assert.Contains(t, text, `"unmet_constraint": "insufficient_ram"`)
	assert.NotContains(t, text, "provision_state")
}

func TestOutput_ProgressWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	out := newOutput(&buf, "text")

	out.progress("pulling manifest", 0, 0)
	out.progress("downloading", 10, 100)
	out.progress("downloading", 50, 100)
	out.progress("success", 0, 0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[1], "10.0%")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "4.0 GiB", humanBytes(4<<30))
}
