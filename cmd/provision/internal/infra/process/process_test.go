// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/util"
)

func TestDefaultManager_Run_ReturnsStdout(t *testing.T) {
	pm := NewDefaultManager()
	out, err := pm.Run(context.Background(), "sh", "-c", "printf 'hello'")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestDefaultManager_Run_CarriesExitCodeAndStderr(t *testing.T) {
	pm := NewDefaultManager()
	_, err := pm.Run(context.Background(), "sh", "-c", "echo 'pull model manifest: not found' >&2; exit 3")
	require.Error(t, err)

	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "pull model manifest: not found", cmdErr.Stderr)
	assert.Contains(t, cmdErr.Command, "sh -c")
}

func TestDefaultManager_Run_MissingBinary(t *testing.T) {
	pm := NewDefaultManager()
	_, err := pm.Run(context.Background(), "definitely-not-a-real-binary-4711")
	require.Error(t, err)

	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestDefaultManager_RunWithInput(t *testing.T) {
	pm := NewDefaultManager()
	out, err := pm.RunWithInput(context.Background(), "cat", []byte("FROM llama3\n"))
	require.NoError(t, err)
	assert.Equal(t, "FROM llama3\n", string(out))
}

func TestMockManager_RecordsCalls(t *testing.T) {
	mock := &MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("ok"), nil
		},
	}

	_, _ = mock.Run(context.Background(), "ollama", "pull", "llama3")
	_, _ = mock.Run(context.Background(), "ollama", "list")

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"pull", "llama3"}, calls[0].Args)
	assert.Len(t, mock.CallsTo("pull"), 1)
	assert.Len(t, mock.CallsTo("create"), 0)
}

func TestMockManager_PanicsWhenUnset(t *testing.T) {
	mock := &MockManager{}
	assert.Panics(t, func() {
		_, _ = mock.Run(context.Background(), "ollama", "list")
	})
}

func TestLock_SecondAcquireFails(t *testing.T) {
	cfg := LockConfig{LockDir: t.TempDir(), LockName: "test"}

	first := NewLock(cfg)
	require.NoError(t, first.Acquire())
	defer first.Release()
	assert.True(t, first.IsHeld())

	second := NewLock(cfg)
	err := second.Acquire()
	require.Error(t, err)

	var held *ErrLockHeld
	require.True(t, errors.As(err, &held))
	assert.Greater(t, held.HolderPID, 0)
	assert.False(t, second.IsHeld())
}

func TestLock_ReleaseThenReacquire(t *testing.T) {
	cfg := LockConfig{LockDir: t.TempDir(), LockName: "test"}

	l := NewLock(cfg)
	require.NoError(t, l.Acquire())
	require.NoError(t, l.Release())
	assert.False(t, l.IsHeld())

	again := NewLock(cfg)
	require.NoError(t, again.Acquire())
	require.NoError(t, again.Release())
	require.NoError(t, again.Release(), "double release is a no-op")
}

func TestLock_CreatesMissingDirPrivately(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	l := NewLock(LockConfig{LockDir: dir, LockName: "test"})
	require.NoError(t, l.Acquire())
	defer l.Release()

	info, err := os.Stat(filepath.Join(dir, "test.lock"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, filepath.Join(dir, "test.lock"), l.Path())
}

func TestDefaultLockConfig_UsesPerUserStateDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultLockConfig()
	assert.Equal(t, filepath.Join(home, ".aleutian-provision"), cfg.LockDir)
	assert.Equal(t, "aleutian-provision", cfg.LockName)

	l := NewLock(LockConfig{})
	assert.Equal(t, filepath.Join(home, ".aleutian-provision", "aleutian-provision.lock"), l.Path())
}
