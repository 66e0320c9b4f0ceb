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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/pipeline"
)

// Process exit codes.
const (
	ExitConfirmed      = 0
	ExitFailure        = 1
	ExitNoCandidate    = 2
	ExitPullFailed     = 3
	ExitTimedOut       = 4
	ExitProbeError     = 5
	ExitCatalogError   = 6
	ExitCreationFailed = 7
	ExitLockHeld       = 8
)

// exitError carries an exit code through cobra's error return.
type exitError struct {
	code int
	err  error

	// reported is set when the command already printed the failure.
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func reported(code int, err error) error {
	return &exitError{code: code, err: err, reported: true}
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitConfirmed
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}

// outcomeCode maps a pipeline outcome to its exit code.
func outcomeCode(o pipeline.Outcome) int {
	switch o {
	case pipeline.OutcomeConfirmed, pipeline.OutcomePlanned:
		return ExitConfirmed
	case pipeline.OutcomeNoCandidate:
		return ExitNoCandidate
	case pipeline.OutcomePullFailed:
		return ExitPullFailed
	case pipeline.OutcomeTimedOut:
		return ExitTimedOut
	case pipeline.OutcomeProbeError:
		return ExitProbeError
	case pipeline.OutcomeCatalogError:
		return ExitCatalogError
	case pipeline.OutcomeCreationFailed:
		return ExitCreationFailed
	default:
		return ExitFailure
	}
}
