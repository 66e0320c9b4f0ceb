// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/infra/process"
)

const sampleMeminfo = `MemTotal:       16303412 kB
MemFree:         1203344 kB
MemAvailable:    8388608 kB
Buffers:          402112 kB
Cached:          6011232 kB
`

const sampleVMStat = `Mach Virtual Memory Statistics: (page size of 16384 bytes)
Pages free:                               10000.
Pages active:                            400000.
Pages inactive:                           20000.
Pages speculative:                         2000.
Pages throttled:                              0.
Pages wired down:                        150000.
`

// scripted returns a MockManager answering by binary name.
func scripted(outputs map[string]string, failing ...string) *process.MockManager {
	fail := make(map[string]bool, len(failing))
	for _, f := range failing {
		fail[f] = true
	}
	return &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if fail[name] {
				return nil, errors.New(name + ": not found")
			}
			if out, ok := outputs[name]; ok {
				return []byte(out), nil
			}
			return nil, errors.New(name + ": unexpected")
		},
	}
}

func newTestProber(t *testing.T, goos string, proc process.Manager) *DefaultProber {
	t.Helper()
	p := NewDefaultProber(proc, Overrides{})
	p.goos = goos
	p.goarch = "amd64"
	p.sysinfo = nil
	return p
}

func writeMeminfo(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseMeminfo(t *testing.T) {
	avail, total, err := parseMeminfo([]byte(sampleMeminfo))
	require.NoError(t, err)
	assert.Equal(t, uint64(8388608*1024), avail)
	assert.Equal(t, uint64(16303412*1024), total)
}

func TestParseMeminfo_MissingAvailable(t *testing.T) {
	_, _, err := parseMeminfo([]byte("MemTotal: 100 kB\nMemFree: 50 kB\n"))
	assert.ErrorIs(t, err, errNoMemAvailable)
}

func TestParseVMStat(t *testing.T) {
	got, err := parseVMStat([]byte(sampleVMStat))
	require.NoError(t, err)
	assert.Equal(t, uint64(32000*16384), got)
}

func TestParseVMStat_NoPageSize(t *testing.T) {
	_, err := parseVMStat([]byte("Pages free: 10.\n"))
	assert.Error(t, err)
}

func TestParseWindowsMemory(t *testing.T) {
	avail, total, err := parseWindowsMemory([]byte("4194304 16777216\r\n"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4194304*1024), avail)
	assert.Equal(t, uint64(16777216*1024), total)

	_, _, err = parseWindowsMemory([]byte("garbage"))
	assert.Error(t, err)
}

func TestParseNvidiaList(t *testing.T) {
	name, ok := parseNvidiaList("GPU 0: NVIDIA GeForce RTX 4090 (UUID: GPU-1234)\nGPU 1: NVIDIA A100 (UUID: GPU-5678)\n")
	assert.True(t, ok)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", name)

	_, ok = parseNvidiaList("No devices were found\n")
	assert.False(t, ok)
}

func TestParseROCmProductName(t *testing.T) {
	out := "======= ROCm System Management Interface =======\nGPU[0]\t\t: Card series: \t\tRadeon RX 7900 XTX\n"
	name, ok := parseROCmProductName(out)
	assert.True(t, ok)
	assert.Equal(t, "Radeon RX 7900 XTX", name)
}

func TestParseDisplaysData(t *testing.T) {
	out := "Graphics/Displays:\n\n    AMD Radeon Pro 5500M:\n\n      Chipset Model: AMD Radeon Pro 5500M\n      Metal Support: Metal 3\n"
	name, ok := parseDisplaysData(out)
	assert.True(t, ok)
	assert.Equal(t, "AMD Radeon Pro 5500M", name)

	_, ok = parseDisplaysData("Chipset Model: Intel GMA\nMetal: Not Supported\n")
	assert.False(t, ok)
}

func TestProbe_Linux_WithNvidia(t *testing.T) {
	proc := scripted(map[string]string{"nvidia-smi": "GPU 0: NVIDIA L4 (UUID: GPU-x)\n"})
	p := newTestProber(t, "linux", proc)
	p.meminfoPath = writeMeminfo(t, sampleMeminfo)

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 8.0, caps.AvailableRAMGiB, 1e-9)
	assert.True(t, caps.HasGPU)
	assert.Equal(t, "NVIDIA L4", caps.GPUName)
	assert.Equal(t, "linux", caps.Platform)
	assert.False(t, caps.Overridden)
}

func TestProbe_Linux_NoGPUIsNotAnError(t *testing.T) {
	proc := scripted(nil, "nvidia-smi", "rocm-smi")
	p := newTestProber(t, "linux", proc)
	p.meminfoPath = writeMeminfo(t, sampleMeminfo)

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, caps.HasGPU)
	assert.Empty(t, caps.GPUName)
}

func TestProbe_Linux_UnreadableMeminfoIsProbeError(t *testing.T) {
	p := newTestProber(t, "linux", scripted(nil))
	p.meminfoPath = filepath.Join(t.TempDir(), "missing")

	_, err := p.Probe(context.Background())
	require.Error(t, err)

	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.Contains(t, probeErr.Op, "missing")
}

func TestProbe_Linux_FallsBackToSysinfo(t *testing.T) {
	proc := scripted(nil, "nvidia-smi", "rocm-smi")
	p := newTestProber(t, "linux", proc)
	p.meminfoPath = writeMeminfo(t, "MemTotal: 2048 kB\n")
	p.sysinfo = func() (uint64, uint64, error) { return 3 * bytesPerGiB, 4 * bytesPerGiB, nil }

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, caps.AvailableRAMGiB, 1e-9)
	assert.InDelta(t, 4.0, caps.TotalRAMGiB, 1e-9)
}

func TestProbe_Darwin(t *testing.T) {
	proc := scripted(map[string]string{
		"vm_stat":         sampleVMStat,
		"sysctl":          "17179869184\n",
		"system_profiler": "Chipset Model: Intel Iris Plus\nMetal Support: Metal 3\n",
	})
	p := newTestProber(t, "darwin", proc)

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, float64(32000*16384)/bytesPerGiB, caps.AvailableRAMGiB, 1e-9)
	assert.InDelta(t, 16.0, caps.TotalRAMGiB, 1e-9)
	assert.True(t, caps.HasGPU)
}

func TestProbe_DarwinArm64ImpliesGPU(t *testing.T) {
	proc := scripted(map[string]string{"vm_stat": sampleVMStat}, "sysctl")
	p := newTestProber(t, "darwin", proc)
	p.goarch = "arm64"

	caps, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.True(t, caps.HasGPU)
	assert.Zero(t, caps.TotalRAMGiB, "sysctl failure leaves total unknown")
}

func TestProbe_DarwinVMStatFailureIsFatal(t *testing.T) {
	p := newTestProber(t, "darwin", scripted(nil, "vm_stat"))

	_, err := p.Probe(context.Background())
	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.Equal(t, "vm_stat", probeErr.Op)
}

func TestProbe_UnsupportedPlatform(t *testing.T) {
	p := newTestProber(t, "plan9", scripted(nil))
	_, err := p.Probe(context.Background())
	var probeErr *ProbeError
	assert.True(t, errors.As(err, &probeErr))
}

func TestProbe_Overrides(t *testing.T) {
	ram := 1.8
	gpu := true
	p := NewDefaultProber(&process.MockManager{}, Overrides{AvailableRAMGiB: &ram, HasGPU: &gpu})

	caps, err := p.Probe(context.Background())
	require.NoError(t, err, "overrides must not touch the host")
	assert.Equal(t, 1.8, caps.AvailableRAMGiB)
	assert.True(t, caps.HasGPU)
	assert.True(t, caps.Overridden)
}

func TestMockProber(t *testing.T) {
	m := &MockProber{Caps: Capabilities{AvailableRAMGiB: 4}}
	caps, err := m.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, caps.AvailableRAMGiB)
	assert.Equal(t, 1, m.Calls())
}

func TestCapabilities_String(t *testing.T) {
	s := Capabilities{AvailableRAMGiB: 1.5, TotalRAMGiB: 8, Platform: "linux"}.String()
	assert.Contains(t, s, "1.50 GiB")
	assert.Contains(t, s, "GPU: none")
}
