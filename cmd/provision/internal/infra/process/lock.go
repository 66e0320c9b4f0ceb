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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// LockConfig configures the provisioning run lock.
type LockConfig struct {
	// LockDir is the directory holding the lock and pid files.
	LockDir string

	// LockName is the base name for both files.
	LockName string
}

// DefaultLockConfig returns a lock in DefaultLockDir() named "aleutian-provision".
func DefaultLockConfig() LockConfig {
	return LockConfig{
		LockDir:  DefaultLockDir(),
		LockName: defaultLockName,
	}
}

// ErrLockHeld is returned by Acquire when another run holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another provisioning run is in progress (PID %d); if stale, remove %s",
			e.HolderPID, e.LockPath)
	}
	return fmt.Sprintf("another provisioning run is in progress (check: lsof %s)", e.LockPath)
}

// Lock is an advisory flock(2) lock with a sidecar pid file.
//
// # Description
//
// Two concurrent `provision run` invocations would both rewrite the Modelfile
// and both issue a create for the same derived model. Lock turns the second
// invocation into an immediate, explained failure.
//
// # Limitations
//
//   - Advisory only; processes that do not take the lock are not excluded
//   - Not safe for concurrent use from multiple goroutines
type Lock struct {
	dir      string
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewLock creates an unacquired lock, filling defaults for empty fields.
func NewLock(cfg LockConfig) *Lock {
	if cfg.LockDir == "" {
		cfg.LockDir = DefaultLockDir()
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultLockName
	}
	return &Lock{
		dir:      cfg.LockDir,
		lockPath: filepath.Join(cfg.LockDir, cfg.LockName+".lock"),
		pidPath:  filepath.Join(cfg.LockDir, cfg.LockName+".pid"),
	}
}

// Acquire takes the lock without blocking.
//
// # Outputs
//
//   - error: *ErrLockHeld if another process holds the lock, or an I/O error
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}

	if err := os.MkdirAll(l.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create lock directory %s: %w", l.dir, err)
	}
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: l.readHolderPID(), LockPath: l.pidPath}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.lockFile = f
	l.held = true
	// The pid file is informational; a write failure does not void the lock.
	_ = os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	_ = os.Remove(l.pidPath)
	err := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
	_ = l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this Lock currently holds the flock.
func (l *Lock) IsHeld() bool {
	return l.held
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.lockPath
}

func (l *Lock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
