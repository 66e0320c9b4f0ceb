// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"sync"
)

// MockRegistry is a scriptable Registry for tests in other packages.
//
// Unset Func fields fall back to an in-memory model set seeded from Models:
// Pull and Create add the name, List returns the set in insertion order, and
// Generate echoes the prompt.
type MockRegistry struct {
	ListFunc     func(ctx context.Context) ([]string, error)
	PullFunc     func(ctx context.Context, name string, progress PullProgressCallback) error
	CreateFunc   func(ctx context.Context, name string, mf Modelfile) error
	GenerateFunc func(ctx context.Context, model, prompt string) (string, error)

	// Models seeds the built-in model set.
	Models []string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one invocation on MockRegistry.
type MockCall struct {
	Method    string
	Model     string
	Prompt    string
	Modelfile Modelfile
}

func (m *MockRegistry) record(c MockCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *MockRegistry) add(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !Contains(m.Models, name) {
		m.Models = append(m.Models, name)
	}
}

// List records the call and delegates to ListFunc.
func (m *MockRegistry) List(ctx context.Context) ([]string, error) {
	m.record(MockCall{Method: "List"})
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Models))
	copy(out, m.Models)
	return out, nil
}

// Has is List plus Contains, so it is recorded as a List call.
func (m *MockRegistry) Has(ctx context.Context, name string) (bool, error) {
	names, err := m.List(ctx)
	if err != nil {
		return false, err
	}
	return Contains(names, name), nil
}

// Pull records the call and delegates to PullFunc.
func (m *MockRegistry) Pull(ctx context.Context, name string, progress PullProgressCallback) error {
	m.record(MockCall{Method: "Pull", Model: name})
	if m.PullFunc != nil {
		return m.PullFunc(ctx, name, progress)
	}
	if progress != nil {
		progress("success", 1, 1)
	}
	m.add(name)
	return nil
}

// Create records the call and delegates to CreateFunc.
func (m *MockRegistry) Create(ctx context.Context, name string, mf Modelfile) error {
	m.record(MockCall{Method: "Create", Model: name, Modelfile: mf})
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, name, mf)
	}
	m.add(name)
	return nil
}

// Generate records the call and delegates to GenerateFunc.
func (m *MockRegistry) Generate(ctx context.Context, model, prompt string) (string, error) {
	m.record(MockCall{Method: "Generate", Model: model, Prompt: prompt})
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, model, prompt)
	}
	return "echo: " + prompt, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockRegistry) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Count returns how many times method was called.
func (m *MockRegistry) Count(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

var _ Registry = (*MockRegistry)(nil)
