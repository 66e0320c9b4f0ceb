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
Package probe captures a one-shot snapshot of the host resources that model
selection depends on: free memory and GPU presence.

# Snapshot Semantics

Probe returns a Capabilities value, not a live view. Selection must use one
snapshot for the whole decision; free memory fluctuates and re-reading it
mid-decision would let two checks disagree.

# Detection

	linux:   /proc/meminfo MemAvailable, falling back to sysinfo(2)
	darwin:  vm_stat (free + inactive + speculative pages), sysctl hw.memsize
	windows: Win32_OperatingSystem FreePhysicalMemory via PowerShell

GPU detection is best-effort: nvidia-smi, rocm-smi, Apple Silicon, and
system_profiler on Intel Macs. Not finding a GPU is never an error.

Failing to read free memory is fatal (ProbeError); there is no retry.
*/
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/infra/process"
)

// bytesPerGiB converts byte counts to GiB.
const bytesPerGiB = 1 << 30

// Capabilities is an immutable snapshot of host resources.
type Capabilities struct {
	// AvailableRAMGiB is memory the OS reports as available for new work.
	AvailableRAMGiB float64 `json:"available_ram_gib"`

	// TotalRAMGiB is installed memory (0 if unknown). Informational only.
	TotalRAMGiB float64 `json:"total_ram_gib"`

	// HasGPU is true if a usable GPU was detected.
	HasGPU bool `json:"has_gpu"`

	// GPUName describes the detected GPU (empty if none).
	GPUName string `json:"gpu_name,omitempty"`

	// Platform is runtime.GOOS at probe time.
	Platform string `json:"platform"`

	// Overridden is true when any field came from configuration instead of measurement.
	Overridden bool `json:"overridden,omitempty"`
}

// String formats the snapshot for log and CLI output.
func (c Capabilities) String() string {
	gpu := "none"
	if c.HasGPU {
		gpu = c.GPUName
		if gpu == "" {
			gpu = "present"
		}
	}
	return fmt.Sprintf("available RAM %.2f GiB (total %.2f GiB), GPU: %s, platform: %s",
		c.AvailableRAMGiB, c.TotalRAMGiB, gpu, c.Platform)
}

// ProbeError reports that host introspection failed.
type ProbeError struct {
	// Op names the failed query, e.g. "read /proc/meminfo".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe failed: %s: %v", e.Op, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Prober captures a Capabilities snapshot.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Prober interface {
	// Probe reads host resources once.
	//
	// # Outputs
	//
	//   - Capabilities: the snapshot
	//   - error: *ProbeError if free memory could not be determined
	Probe(ctx context.Context) (Capabilities, error)
}

// Overrides replace measured values. Nil fields keep the measurement.
type Overrides struct {
	AvailableRAMGiB *float64
	HasGPU          *bool
}

// DefaultProber probes the real host through process.Manager.
type DefaultProber struct {
	proc      process.Manager
	overrides Overrides

	// Seams for tests; zero values select the real implementations.
	goos        string
	goarch      string
	meminfoPath string
	sysinfo     func() (availBytes, totalBytes uint64, err error)
}

// NewDefaultProber creates a prober for the current platform.
//
// # Inputs
//
//   - proc: Manager used for sysctl, vm_stat, nvidia-smi and friends
//   - overrides: values that replace measurements (may be zero)
func NewDefaultProber(proc process.Manager, overrides Overrides) *DefaultProber {
	return &DefaultProber{
		proc:        proc,
		overrides:   overrides,
		goos:        runtime.GOOS,
		goarch:      runtime.GOARCH,
		meminfoPath: "/proc/meminfo",
		sysinfo:     sysinfoMemory,
	}
}

// Probe reads free memory (fatal on failure) and detects a GPU (best-effort).
func (p *DefaultProber) Probe(ctx context.Context) (Capabilities, error) {
	caps := Capabilities{Platform: p.goos}

	if p.overrides.AvailableRAMGiB != nil {
		caps.AvailableRAMGiB = *p.overrides.AvailableRAMGiB
		caps.Overridden = true
		slog.Info("Using configured RAM instead of measurement", "available_ram_gib", caps.AvailableRAMGiB)
	} else {
		avail, total, err := p.memory(ctx)
		if err != nil {
			return Capabilities{}, err
		}
		caps.AvailableRAMGiB = float64(avail) / bytesPerGiB
		caps.TotalRAMGiB = float64(total) / bytesPerGiB
	}

	if p.overrides.HasGPU != nil {
		caps.HasGPU = *p.overrides.HasGPU
		caps.Overridden = true
	} else {
		caps.GPUName, caps.HasGPU = p.detectGPU(ctx)
	}

	slog.Debug("Probed host capabilities",
		"available_ram_gib", caps.AvailableRAMGiB,
		"total_ram_gib", caps.TotalRAMGiB,
		"has_gpu", caps.HasGPU,
		"gpu", caps.GPUName)

	return caps, nil
}

// memory dispatches to the platform reader; results are in bytes.
func (p *DefaultProber) memory(ctx context.Context) (avail, total uint64, err error) {
	switch p.goos {
	case "linux":
		return p.linuxMemory()
	case "darwin":
		return p.darwinMemory(ctx)
	case "windows":
		return p.windowsMemory(ctx)
	default:
		return 0, 0, &ProbeError{Op: "read free memory", Err: fmt.Errorf("unsupported platform %q", p.goos)}
	}
}

// -----------------------------------------------------------------------------
// MockProber
// -----------------------------------------------------------------------------

// MockProber returns a fixed snapshot or error and counts calls.
type MockProber struct {
	Caps Capabilities
	Err  error

	calls atomic.Int64
}

// Probe returns the configured snapshot.
func (m *MockProber) Probe(_ context.Context) (Capabilities, error) {
	m.calls.Add(1)
	if m.Err != nil {
		return Capabilities{}, m.Err
	}
	return m.Caps, nil
}

// Calls returns how many times Probe was invoked.
func (m *MockProber) Calls() int {
	return int(m.calls.Load())
}

var (
	_ Prober = (*DefaultProber)(nil)
	_ Prober = (*MockProber)(nil)
)
