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
Package provision makes the selected base model present in the engine and
builds the derived, system-prompted model on top of it.

# State

Each base model moves through ProvisionState within one run:

	NotPresent ──► Pulling ──► Present
	     │            └──────► PullFailed (terminal)
	     └───────────────────► Present

Transitions never go backwards. Once a model reaches PullFailed the run
stops trying: the Provisioner never issues a second pull for it.

# Artifacts

MaterializeConfig renders a Modelfile and writes it atomically (temp file in
the same directory, fsync, rename). A reader sees the old file or the new
one, never a prefix of either.
*/
package provision

import "fmt"

// ProvisionState tracks one base model's presence in the engine.
type ProvisionState int

const (
	NotPresent ProvisionState = iota
	Pulling
	Present
	PullFailed
)

// String returns the state name for logs.
func (s ProvisionState) String() string {
	switch s {
	case NotPresent:
		return "not_present"
	case Pulling:
		return "pulling"
	case Present:
		return "present"
	case PullFailed:
		return "pull_failed"
	default:
		return fmt.Sprintf("ProvisionState(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible this run.
func (s ProvisionState) Terminal() bool {
	return s == Present || s == PullFailed
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to ProvisionState) bool {
	switch from {
	case NotPresent:
		return to == Pulling || to == Present
	case Pulling:
		return to == Present || to == PullFailed
	default:
		return false
	}
}

// stateMachine enforces monotonic transitions for one model.
type stateMachine struct {
	state ProvisionState
}

func (m *stateMachine) advance(to ProvisionState) error {
	if !CanTransition(m.state, to) {
		return &TransitionError{From: m.state, To: to}
	}
	m.state = to
	return nil
}

// TransitionError reports an illegal state change. It indicates a bug.
type TransitionError struct {
	From, To ProvisionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal provision transition %s -> %s", e.From, e.To)
}
