// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/provision"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/selector"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/verify"
)

// Stage names, in execution order.
const (
	StageCatalog     = "catalog"
	StageProbe       = "probe"
	StageSelect      = "select"
	StageEnsure      = "ensure_present"
	StageMaterialize = "materialize"
	StageCreate      = "create"
	StageVerify      = "verify"
	StageServe       = "start_server"
)

// StageError is the single error a failed run returns.
type StageError struct {
	Stage string

	// Model is the base or derived model the stage worked on, if any.
	Model string

	// AvailableRAMGiB is the measured value when the probe had run.
	AvailableRAMGiB *float64

	Err error
}

func (e *StageError) Error() string {
	msg := "stage " + e.Stage
	if e.Model != "" {
		msg += fmt.Sprintf(" (model %s)", e.Model)
	}
	if e.AvailableRAMGiB != nil {
		msg += fmt.Sprintf(" [available %.2f GiB]", *e.AvailableRAMGiB)
	}
	return msg + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// NoCandidateError turns a selector.NoCandidate into an error for the run.
type NoCandidateError struct {
	selector.NoCandidate
}

func (e *NoCandidateError) Error() string {
	return e.Message()
}

// Outcome is the run verdict reported to operators and mapped to exit codes.
type Outcome string

const (
	OutcomeConfirmed      Outcome = "confirmed"
	OutcomePlanned        Outcome = "planned"
	OutcomeNoCandidate    Outcome = "no_candidate"
	OutcomePullFailed     Outcome = "pull_failed"
	OutcomeCreationFailed Outcome = "creation_failed"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeProbeError     Outcome = "probe_error"
	OutcomeCatalogError   Outcome = "catalog_error"
	OutcomeFailed         Outcome = "failed"
)

// Classify maps a Run result onto an Outcome.
//
// A nil error with a TimedOut verification is OutcomeTimedOut: the run
// finished but could not observe the model in time.
func Classify(err error, report *Report) Outcome {
	if err == nil {
		if report == nil {
			return OutcomeFailed
		}
		if report.DryRun {
			return OutcomePlanned
		}
		switch report.Verification.State {
		case verify.Confirmed:
			return OutcomeConfirmed
		case verify.TimedOut:
			return OutcomeTimedOut
		default:
			return OutcomeFailed
		}
	}

	var (
		probeErr  *probe.ProbeError
		catErr    *catalog.CatalogError
		noCand    *NoCandidateError
		pullErr   *provision.PullFailedError
		createErr *provision.CreationFailedError
		stageErr  *StageError
	)
	switch {
	case errors.As(err, &noCand):
		return OutcomeNoCandidate
	case errors.As(err, &pullErr):
		return OutcomePullFailed
	case errors.As(err, &createErr):
		return OutcomeCreationFailed
	case errors.As(err, &probeErr):
		return OutcomeProbeError
	case errors.As(err, &catErr):
		return OutcomeCatalogError
	case errors.As(err, &stageErr):
		switch stageErr.Stage {
		case StageCatalog:
			return OutcomeCatalogError
		case StageProbe:
			return OutcomeProbeError
		}
	}
	return OutcomeFailed
}
