// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package selector picks the most capable catalog entry a host can run.
//
// Select is a pure function of (catalog, capabilities): no I/O, no clock,
// no randomness. The same inputs always produce the same Result.
package selector

import (
	"fmt"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
)

// Constraint names the host limit that ruled every candidate out.
type Constraint string

const (
	// InsufficientRAM means no entry's requirement fits available memory.
	InsufficientRAM Constraint = "insufficient_ram"

	// MissingGPU means entries fit memory but all of them need a GPU.
	MissingGPU Constraint = "missing_gpu"
)

// NoCandidate describes why nothing was selected.
type NoCandidate struct {
	Constraint      Constraint `json:"constraint"`
	AvailableRAMGiB float64    `json:"available_ram_gib"`
	RequiredRAMGiB  float64    `json:"required_ram_gib"`
}

// Message renders an operator-facing explanation.
func (n NoCandidate) Message() string {
	switch n.Constraint {
	case MissingGPU:
		return fmt.Sprintf("no GPU detected; every model that fits %.2f GiB requires a GPU", n.AvailableRAMGiB)
	default:
		return fmt.Sprintf("insufficient memory: %.2f GiB available, smallest candidate needs %.2f GiB",
			n.AvailableRAMGiB, n.RequiredRAMGiB)
	}
}

// Result holds exactly one of Selected or NoCandidate.
type Result struct {
	Selected    *catalog.ModelDescriptor `json:"selected,omitempty"`
	NoCandidate *NoCandidate             `json:"no_candidate,omitempty"`
}

// Ok reports whether a model was selected.
func (r Result) Ok() bool {
	return r.Selected != nil
}

// Select returns the eligible entry with the largest MinRAMGiB.
//
// # Description
//
// An entry is eligible when MinRAMGiB <= caps.AvailableRAMGiB and either it
// does not require a GPU or the host has one. Among eligible entries the one
// with the largest requirement wins; equal requirements resolve to the entry
// declared first.
//
// # Outputs
//
// When nothing is eligible the Result carries a NoCandidate:
//
//   - MissingGPU if at least one entry fits memory but every such entry
//     requires a GPU the host lacks.
//   - InsufficientRAM otherwise. RequiredRAMGiB is the smallest requirement
//     among entries the host could satisfy on the GPU axis, or among all
//     entries when none qualify.
//
// # Thread Safety
//
// Safe for concurrent use. Neither argument is modified.
func Select(c *catalog.Catalog, caps probe.Capabilities) Result {
	best := -1
	fitsRAM := false

	for i := 0; i < c.Len(); i++ {
		d := c.At(i)
		if d.MinRAMGiB > caps.AvailableRAMGiB {
			continue
		}
		fitsRAM = true
		if d.RequiresGPU && !caps.HasGPU {
			continue
		}
		// Strict > keeps the earliest entry on ties.
		if best < 0 || d.MinRAMGiB > c.At(best).MinRAMGiB {
			best = i
		}
	}

	if best >= 0 {
		d := c.At(best)
		return Result{Selected: &d}
	}

	if fitsRAM {
		return Result{NoCandidate: &NoCandidate{
			Constraint:      MissingGPU,
			AvailableRAMGiB: caps.AvailableRAMGiB,
		}}
	}

	return Result{NoCandidate: &NoCandidate{
		Constraint:      InsufficientRAM,
		AvailableRAMGiB: caps.AvailableRAMGiB,
		RequiredRAMGiB:  smallestRequirement(c, caps.HasGPU),
	}}
}

func smallestRequirement(c *catalog.Catalog, hasGPU bool) float64 {
	minAll, minUsable := -1.0, -1.0
	for i := 0; i < c.Len(); i++ {
		d := c.At(i)
		if minAll < 0 || d.MinRAMGiB < minAll {
			minAll = d.MinRAMGiB
		}
		if d.RequiresGPU && !hasGPU {
			continue
		}
		if minUsable < 0 || d.MinRAMGiB < minUsable {
			minUsable = d.MinRAMGiB
		}
	}
	if minUsable >= 0 {
		return minUsable
	}
	if minAll >= 0 {
		return minAll
	}
	return 0
}
