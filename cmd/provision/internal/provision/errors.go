// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package provision

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/registry"
)

// ErrAlreadyCreated is returned when CreateDerived is called twice for the
// same identifier in one run.
var ErrAlreadyCreated = errors.New("derived model already created in this run")

// PullFailedError carries the engine's diagnostic for a failed pull.
type PullFailedError struct {
	Model      string
	Diagnostic string
	Err        error
}

func (e *PullFailedError) Error() string {
	return fmt.Sprintf("pull %s failed: %s", e.Model, e.Diagnostic)
}

func (e *PullFailedError) Unwrap() error { return e.Err }

// CreationFailedError carries the engine's diagnostic for a rejected create.
type CreationFailedError struct {
	Model        string
	BaseModel    string
	ArtifactPath string
	Diagnostic   string
	Err          error
}

func (e *CreationFailedError) Error() string {
	return fmt.Sprintf("create %s from %s failed: %s", e.Model, e.BaseModel, e.Diagnostic)
}

func (e *CreationFailedError) Unwrap() error { return e.Err }

// ParamError rejects template parameters or preamble content.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// diagnostic returns the engine's own text when the error carries one.
func diagnostic(err error) string {
	var me *registry.ModelError
	if errors.As(err, &me) && me.Detail != "" {
		return me.Detail
	}
	return err.Error()
}
