// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "stderr wins",
			err:  &CommandError{Command: "ollama pull x", ExitCode: 1, Stderr: "manifest unknown", Wrapped: errors.New("exit status 1")},
			want: "ollama pull x (exit 1): manifest unknown",
		},
		{
			name: "wrapped when no stderr",
			err:  &CommandError{Command: "ollama list", ExitCode: -1, Wrapped: errors.New("executable file not found")},
			want: "ollama list (exit -1): executable file not found",
		},
		{
			name: "bare",
			err:  &CommandError{Command: "ollama list", ExitCode: 2},
			want: "ollama list (exit 2)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNewCommandError_TrimsStderr(t *testing.T) {
	err := NewCommandError("ollama create", 1, "  Error: bad FROM line\n\n", nil)
	assert.Equal(t, "Error: bad FROM line", err.Stderr)
	assert.True(t, err.HasStderr())
}

func TestExtractStderr_ThroughWrapping(t *testing.T) {
	inner := NewCommandError("ollama pull", 1, "network unreachable", nil)
	wrapped := fmt.Errorf("ensure present: %w", inner)

	assert.Equal(t, "network unreachable", ExtractStderr(wrapped))
	assert.Equal(t, "", ExtractStderr(errors.New("plain")))
	assert.Equal(t, "", ExtractStderr(nil))
}

func TestEnforceMinTimeout(t *testing.T) {
	assert.Equal(t, time.Second, EnforceMinTimeout(0, time.Second))
	assert.Equal(t, time.Second, EnforceMinTimeout(-5, time.Second))
	assert.Equal(t, time.Second, EnforceMinTimeout(10*time.Millisecond, time.Second))
	assert.Equal(t, 3*time.Second, EnforceMinTimeout(3*time.Second, time.Second))
}

func TestEnforceDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultPullTimeout, EnforceDefaultTimeout(0, DefaultPullTimeout))
	assert.Equal(t, time.Minute, EnforceDefaultTimeout(time.Minute, DefaultPullTimeout))
}
