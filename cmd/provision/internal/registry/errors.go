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
	"bytes"
	"fmt"
)

// ModelErrorType categorizes engine failures for programmatic handling.
type ModelErrorType int

const (
	// ModelErrorNotFound indicates the model does not exist in the engine or upstream.
	ModelErrorNotFound ModelErrorType = iota

	// ModelErrorPullFailed indicates the model download failed.
	ModelErrorPullFailed

	// ModelErrorCreateFailed indicates the engine rejected a derived model.
	ModelErrorCreateFailed

	// ModelErrorListFailed indicates the engine listing could not be read.
	ModelErrorListFailed

	// ModelErrorGenerateFailed indicates a completion request failed.
	ModelErrorGenerateFailed

	// ModelErrorConnectionFailed indicates the engine is not reachable.
	ModelErrorConnectionFailed

	// ModelErrorInvalidResponse indicates the engine returned unexpected data.
	ModelErrorInvalidResponse

	// ModelErrorContextCancelled indicates the operation was cancelled.
	ModelErrorContextCancelled
)

// String returns the error type as a string for logging.
func (t ModelErrorType) String() string {
	switch t {
	case ModelErrorNotFound:
		return "MODEL_NOT_FOUND"
	case ModelErrorPullFailed:
		return "PULL_FAILED"
	case ModelErrorCreateFailed:
		return "CREATE_FAILED"
	case ModelErrorListFailed:
		return "LIST_FAILED"
	case ModelErrorGenerateFailed:
		return "GENERATE_FAILED"
	case ModelErrorConnectionFailed:
		return "CONNECTION_FAILED"
	case ModelErrorInvalidResponse:
		return "INVALID_RESPONSE"
	case ModelErrorContextCancelled:
		return "CONTEXT_CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ModelError provides structured error information for engine operations.
type ModelError struct {
	// Type categorizes the error for programmatic handling.
	Type ModelErrorType

	// Model is the name of the model that caused the error.
	Model string

	// Message is a human-readable error description.
	Message string

	// Detail is the engine's diagnostic, verbatim.
	Detail string

	// Remediation suggests how to fix the issue.
	Remediation string

	// Err is the underlying transport or process error, if any.
	Err error
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// Unwrap exposes the underlying error.
func (e *ModelError) Unwrap() error {
	return e.Err
}

// FullError returns a detailed error message including remediation.
func (e *ModelError) FullError() string {
	var buf bytes.Buffer
	buf.WriteString(e.Message)
	if e.Model != "" {
		buf.WriteString(fmt.Sprintf(" (model: %s)", e.Model))
	}
	if e.Detail != "" {
		buf.WriteString("\n\nDetails: ")
		buf.WriteString(e.Detail)
	}
	if e.Remediation != "" {
		buf.WriteString("\n\nTo fix:\n")
		buf.WriteString(e.Remediation)
	}
	return buf.String()
}
