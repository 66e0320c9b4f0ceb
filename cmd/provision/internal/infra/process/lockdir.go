// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"os"
	"path/filepath"
)

const defaultLockName = "aleutian-provision"

// DefaultLockDir returns ~/.aleutian-provision, the per-user state directory
// that also holds the derived Modelfile. It falls back to os.TempDir() when
// the home directory cannot be resolved.
func DefaultLockDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return os.TempDir()
	}
	return filepath.Join(home, ".aleutian-provision")
}
