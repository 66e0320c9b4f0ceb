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
Package util holds small helpers shared by the provision packages: the
CommandError type used to carry a failed external command's exit status and
stderr, and timeout floor helpers.
*/
package util

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError wraps a failed external command together with its stderr.
//
// # Description
//
// The model engine CLI reports failures only through its exit status and
// stderr text. CommandError keeps both so upper layers can surface the
// engine's diagnostic verbatim instead of a generic "exit status 1".
//
// # Example
//
//	err := NewCommandError("ollama pull llama3", 1, "pull model manifest: file does not exist", nil)
//	fmt.Println(err.Error()) // "ollama pull llama3 (exit 1): pull model manifest: file does not exist"
//
// # Thread Safety
//
// CommandError is immutable after creation.
type CommandError struct {
	// Command is the command line that was executed.
	Command string

	// ExitCode is the process exit code (-1 if the process never ran).
	ExitCode int

	// Stderr is the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error returns "<command> (exit N): <stderr or wrapped error>".
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

var _ error = (*CommandError)(nil)

// NewCommandError creates a CommandError with trimmed stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first captured stderr.
//
// # Outputs
//
//   - string: stderr of the first CommandError in the chain, or "" if none
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
		return cmdErr.Stderr
	}
	return ""
}
