// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

// Manager abstracts external process execution.
//
// # Description
//
// Every exec.Command call in the provisioner goes through Manager so that
// probe, registry and serve logic can be tested without real binaries.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// Run executes a command and returns its stdout.
	// A non-zero exit is returned as *util.CommandError carrying stderr.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput is Run with the given bytes on stdin.
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// Start launches a detached, long-running process and returns its PID.
	Start(ctx context.Context, name string, args ...string) (int, error)

	// IsRunning reports whether a process whose command line matches pattern exists.
	IsRunning(ctx context.Context, pattern string) (bool, int, error)

	// LookPath resolves a binary on PATH.
	LookPath(name string) (string, error)
}

// DefaultManager executes real processes via os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a Manager backed by os/exec.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes name with args and returns stdout.
func (pm *DefaultManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return pm.run(ctx, nil, name, args...)
}

// RunWithInput executes name with args, feeding input on stdin.
func (pm *DefaultManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	return pm.run(ctx, input, name, args...)
}

func (pm *DefaultManager) run(ctx context.Context, input []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if input != nil {
		cmd.Stdin = bytes.NewReader(input)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), util.NewCommandError(commandLine(name, args), exitCode(err), stderr.String(), err)
	}
	return stdout.Bytes(), nil
}

// Start launches name detached from ctx; the process outlives the CLI.
func (pm *DefaultManager) Start(_ context.Context, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	// Reap the child so it never lingers as a zombie.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// IsRunning uses pgrep -f to look for a matching process.
func (pm *DefaultManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	output, err := exec.CommandContext(ctx, "pgrep", "-f", pattern).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("pgrep failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > 0 && lines[0] != "" {
		pid, err := strconv.Atoi(lines[0])
		if err != nil {
			return true, 0, nil
		}
		return true, pid, nil
	}
	return false, 0, nil
}

// LookPath wraps exec.LookPath.
func (pm *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// -----------------------------------------------------------------------------
// MockManager
// -----------------------------------------------------------------------------

// MockManager is a scriptable Manager that records every call.
//
// Unset Func fields make the corresponding method panic, so a test fails
// loudly when code shells out to something it did not expect.
type MockManager struct {
	RunFunc          func(ctx context.Context, name string, args ...string) ([]byte, error)
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)
	StartFunc        func(ctx context.Context, name string, args ...string) (int, error)
	IsRunningFunc    func(ctx context.Context, pattern string) (bool, int, error)
	LookPathFunc     func(name string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Call records one invocation on MockManager.
type Call struct {
	Method string
	Name   string
	Args   []string
	Input  []byte
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Run records the call and delegates to RunFunc.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(Call{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockManager.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput records the call and delegates to RunWithInputFunc.
func (m *MockManager) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.record(Call{Method: "RunWithInput", Name: name, Args: args, Input: input})
	if m.RunWithInputFunc == nil {
		panic("MockManager.RunWithInputFunc not set")
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// Start records the call and delegates to StartFunc.
func (m *MockManager) Start(ctx context.Context, name string, args ...string) (int, error) {
	m.record(Call{Method: "Start", Name: name, Args: args})
	if m.StartFunc == nil {
		panic("MockManager.StartFunc not set")
	}
	return m.StartFunc(ctx, name, args...)
}

// IsRunning records the call and delegates to IsRunningFunc.
func (m *MockManager) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	m.record(Call{Method: "IsRunning", Name: pattern})
	if m.IsRunningFunc == nil {
		panic("MockManager.IsRunningFunc not set")
	}
	return m.IsRunningFunc(ctx, pattern)
}

// LookPath delegates to LookPathFunc, defaulting to "/usr/bin/<name>".
func (m *MockManager) LookPath(name string) (string, error) {
	m.record(Call{Method: "LookPath", Name: name})
	if m.LookPathFunc == nil {
		return "/usr/bin/" + name, nil
	}
	return m.LookPathFunc(name)
}

// Calls returns a copy of the recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded calls whose first argument equals sub,
// e.g. CallsTo("pull") for "ollama pull <model>".
func (m *MockManager) CallsTo(sub string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if len(c.Args) > 0 && c.Args[0] == sub {
			out = append(out, c)
		}
	}
	return out
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
