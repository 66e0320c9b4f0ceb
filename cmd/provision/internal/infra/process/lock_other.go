// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package process

import (
	"fmt"
	"os"
	"path/filepath"
)

// LockConfig configures the provisioning run lock.
type LockConfig struct {
	LockDir  string
	LockName string
}

// DefaultLockConfig returns a lock in DefaultLockDir() named "aleutian-provision".
func DefaultLockConfig() LockConfig {
	return LockConfig{LockDir: DefaultLockDir(), LockName: defaultLockName}
}

// ErrLockHeld is returned by Acquire when another run holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	return fmt.Sprintf("another provisioning run is in progress (remove %s if stale)", e.LockPath)
}

// Lock falls back to exclusive file creation where flock(2) is unavailable.
type Lock struct {
	dir      string
	lockPath string
	held     bool
}

// NewLock creates an unacquired lock.
func NewLock(cfg LockConfig) *Lock {
	if cfg.LockDir == "" {
		cfg.LockDir = DefaultLockDir()
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultLockName
	}
	return &Lock{dir: cfg.LockDir, lockPath: filepath.Join(cfg.LockDir, cfg.LockName+".lock")}
}

// Acquire creates the lock file exclusively.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory %s: %w", l.dir, err)
	}
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return &ErrLockHeld{LockPath: l.lockPath}
		}
		return fmt.Errorf("failed to create lock file %s: %w", l.lockPath, err)
	}
	_ = f.Close()
	l.held = true
	return nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return os.Remove(l.lockPath)
}

// IsHeld reports whether this Lock holds the lock file.
func (l *Lock) IsHeld() bool {
	return l.held
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.lockPath
}
