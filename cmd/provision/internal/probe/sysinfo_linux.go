// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package probe

import "golang.org/x/sys/unix"

// sysinfoMemory approximates available memory as free + buffer RAM.
func sysinfoMemory() (avail, total uint64, err error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, err
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	avail = (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	total = uint64(info.Totalram) * unit
	return avail, total, nil
}
