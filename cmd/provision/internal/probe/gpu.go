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
	"log/slog"
	"strings"
)

// detectGPU tries each detector in turn and returns the first hit.
func (p *DefaultProber) detectGPU(ctx context.Context) (string, bool) {
	switch p.goos {
	case "darwin":
		if p.goarch == "arm64" {
			return "Apple Silicon (Metal)", true
		}
		return p.detectMetal(ctx)
	case "linux", "windows":
		if name, ok := p.detectNvidia(ctx); ok {
			return name, true
		}
		return p.detectROCm(ctx)
	}
	return "", false
}

// detectNvidia parses `nvidia-smi -L`: "GPU 0: NVIDIA GeForce RTX 4090 (UUID: GPU-...)".
func (p *DefaultProber) detectNvidia(ctx context.Context) (string, bool) {
	out, err := p.proc.Run(ctx, "nvidia-smi", "-L")
	if err != nil {
		slog.Debug("nvidia-smi unavailable", "error", err)
		return "", false
	}
	return parseNvidiaList(string(out))
}

func parseNvidiaList(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "GPU ") {
			continue
		}
		_, name, ok := strings.Cut(line, ": ")
		if !ok {
			return "NVIDIA GPU", true
		}
		if i := strings.Index(name, " (UUID"); i >= 0 {
			name = name[:i]
		}
		return strings.TrimSpace(name), true
	}
	return "", false
}

// detectROCm parses `rocm-smi --showproductname` for a "Card series" line.
func (p *DefaultProber) detectROCm(ctx context.Context) (string, bool) {
	out, err := p.proc.Run(ctx, "rocm-smi", "--showproductname")
	if err != nil {
		slog.Debug("rocm-smi unavailable", "error", err)
		return "", false
	}
	return parseROCmProductName(string(out))
}

func parseROCmProductName(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Card series") && !strings.Contains(line, "Card Series") {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			return "AMD GPU", true
		}
		name := strings.TrimSpace(line[idx+1:])
		if name == "" {
			name = "AMD GPU"
		}
		return name, true
	}
	return "", false
}

// detectMetal checks system_profiler for a Metal-capable display adapter.
func (p *DefaultProber) detectMetal(ctx context.Context) (string, bool) {
	out, err := p.proc.Run(ctx, "system_profiler", "SPDisplaysDataType")
	if err != nil {
		slog.Debug("system_profiler unavailable", "error", err)
		return "", false
	}
	return parseDisplaysData(string(out))
}

func parseDisplaysData(out string) (string, bool) {
	var chipset string
	var metal bool
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Chipset Model:"); ok && chipset == "" {
			chipset = strings.TrimSpace(v)
		}
		if strings.HasPrefix(line, "Metal") && !strings.Contains(line, "Not Supported") {
			metal = true
		}
	}
	if !metal {
		return "", false
	}
	if chipset == "" {
		chipset = "Metal GPU"
	}
	return chipset, true
}
