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
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/infra/process"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

func TestCLIRegistry_List(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, "ollama", name)
			assert.Equal(t, []string{"list"}, args)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return []byte("NAME ID SIZE MODIFIED\ngemma2:2b abc 1.6GB now\n"), nil
		},
	}
	r := NewCLIRegistry(proc, CLIOptions{})

	names, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma2:2b"}, names)

	ok, err := r.Has(context.Background(), "gemma2:2b")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, proc.CallsTo("list"), 2)
}

func TestCLIRegistry_PullFailureCarriesStderrVerbatim(t *testing.T) {
	const stderr = "Error: pull model manifest: file does not exist"
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, util.NewCommandError("ollama pull nope:1b", 1, stderr+"\n", errors.New("exit status 1"))
		},
	}
	r := NewCLIRegistry(proc, CLIOptions{})

	var events []string
	err := r.Pull(context.Background(), "nope:1b", func(status string, _, _ int64) {
		events = append(events, status)
	})

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorPullFailed, me.Type)
	assert.Equal(t, stderr, me.Detail)
	assert.Equal(t, "nope:1b", me.Model)
	assert.Equal(t, []string{"pulling nope:1b"}, events)
	assert.Len(t, proc.CallsTo("pull"), 1)
}

func TestCLIRegistry_PullSuccess(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("success\n"), nil
		},
	}
	r := NewCLIRegistry(proc, CLIOptions{Binary: "/opt/ollama/bin/ollama"})

	var events []string
	require.NoError(t, r.Pull(context.Background(), "gemma2:2b", func(status string, _, _ int64) {
		events = append(events, status)
	}))
	assert.Equal(t, []string{"pulling gemma2:2b", "success"}, events)

	calls := proc.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/opt/ollama/bin/ollama", calls[0].Name)
	assert.Equal(t, []string{"pull", "gemma2:2b"}, calls[0].Args)
}

func TestCLIRegistry_Create(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, nil
		},
	}
	r := NewCLIRegistry(proc, CLIOptions{})

	require.NoError(t, r.Create(context.Background(), "aleutian-assistant", Modelfile{Path: "/tmp/Modelfile"}))
	calls := proc.CallsTo("create")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"create", "aleutian-assistant", "-f", "/tmp/Modelfile"}, calls[0].Args)

	err := r.Create(context.Background(), "aleutian-assistant", Modelfile{})
	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorCreateFailed, me.Type)
	assert.Len(t, proc.CallsTo("create"), 1, "no command without a Modelfile path")
}

func TestCLIRegistry_CreateFailure(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, util.NewCommandError("ollama create", 1, "Error: invalid model name", nil)
		},
	}
	err := NewCLIRegistry(proc, CLIOptions{}).Create(context.Background(), "bad name", Modelfile{Path: "/x"})

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorCreateFailed, me.Type)
	assert.Equal(t, "Error: invalid model name", me.Detail)
}

func TestCLIRegistry_MissingBinary(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cause := &exec.Error{Name: name, Err: exec.ErrNotFound}
			return nil, util.NewCommandError(name+" list", -1, "", cause)
		},
	}
	_, err := NewCLIRegistry(proc, CLIOptions{}).List(context.Background())

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorConnectionFailed, me.Type)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestCLIRegistry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cancel()
			return nil, fmt.Errorf("signal: killed")
		},
	}
	_, err := NewCLIRegistry(proc, CLIOptions{}).List(ctx)

	var me *ModelError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ModelErrorContextCancelled, me.Type)
}

func TestCLIRegistry_Generate(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			assert.Equal(t, []string{"run", "--", "gemma2:2b", "hello"}, args)
			return []byte("  hi there\n"), nil
		},
	}
	out, err := NewCLIRegistry(proc, CLIOptions{}).Generate(context.Background(), "gemma2:2b", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
}

func TestCLIRegistry_GenerateDashPromptIsPositional(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			require.Len(t, args, 4)
			assert.Equal(t, "--", args[1], "flag parsing must end before model and prompt")
			assert.Equal(t, "--verbose please", args[3])
			return []byte("ok"), nil
		},
	}
	out, err := NewCLIRegistry(proc, CLIOptions{}).Generate(context.Background(), "gemma2:2b", "--verbose please")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
