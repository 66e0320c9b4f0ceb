// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// linuxMemory reads MemAvailable and MemTotal from /proc/meminfo.
// Kernels older than 3.14 lack MemAvailable; sysinfo(2) covers those.
func (p *DefaultProber) linuxMemory() (avail, total uint64, err error) {
	data, readErr := os.ReadFile(p.meminfoPath)
	if readErr == nil {
		avail, total, err = parseMeminfo(data)
		if err == nil {
			return avail, total, nil
		}
	}

	if p.sysinfo != nil {
		if a, t, sysErr := p.sysinfo(); sysErr == nil {
			return a, t, nil
		}
	}

	if readErr != nil {
		return 0, 0, &ProbeError{Op: "read " + p.meminfoPath, Err: readErr}
	}
	return 0, 0, &ProbeError{Op: "parse " + p.meminfoPath, Err: err}
}

// errNoMemAvailable marks a meminfo without a MemAvailable line.
var errNoMemAvailable = errors.New("MemAvailable not found")

// parseMeminfo extracts MemAvailable and MemTotal (kB) as bytes.
func parseMeminfo(data []byte) (avail, total uint64, err error) {
	var haveAvail bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, convErr := strconv.ParseUint(fields[1], 10, 64)
		if convErr != nil {
			continue
		}
		switch fields[0] {
		case "MemAvailable:":
			avail = kb * 1024
			haveAvail = true
		case "MemTotal:":
			total = kb * 1024
		}
	}
	if !haveAvail {
		return 0, 0, errNoMemAvailable
	}
	return avail, total, nil
}

// darwinMemory sums reclaimable pages from vm_stat. Total comes from sysctl
// and is informational, so its failure is ignored.
func (p *DefaultProber) darwinMemory(ctx context.Context) (avail, total uint64, err error) {
	out, err := p.proc.Run(ctx, "vm_stat")
	if err != nil {
		return 0, 0, &ProbeError{Op: "vm_stat", Err: err}
	}
	avail, err = parseVMStat(out)
	if err != nil {
		return 0, 0, &ProbeError{Op: "parse vm_stat", Err: err}
	}

	if raw, sysErr := p.proc.Run(ctx, "sysctl", "-n", "hw.memsize"); sysErr == nil {
		if v, convErr := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); convErr == nil {
			total = v
		}
	}
	return avail, total, nil
}

var (
	vmStatPageSize = regexp.MustCompile(`page size of (\d+) bytes`)
	vmStatLine     = regexp.MustCompile(`^(Pages [a-z ]+):\s+(\d+)\.?$`)
)

// parseVMStat returns (free + inactive + speculative) pages in bytes.
func parseVMStat(data []byte) (uint64, error) {
	m := vmStatPageSize.FindSubmatch(data)
	if m == nil {
		return 0, errors.New("page size not found")
	}
	pageSize, err := strconv.ParseUint(string(m[1]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid page size: %w", err)
	}

	var pages uint64
	var found bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lm := vmStatLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if lm == nil {
			continue
		}
		switch lm[1] {
		case "Pages free", "Pages inactive", "Pages speculative":
			n, err := strconv.ParseUint(lm[2], 10, 64)
			if err != nil {
				continue
			}
			pages += n
			found = true
		}
	}
	if !found {
		return 0, errors.New("no free page counters found")
	}
	return pages * pageSize, nil
}

// windowsPSQuery prints "<FreePhysicalMemory> <TotalVisibleMemorySize>" in kB.
const windowsPSQuery = `$o = Get-CimInstance Win32_OperatingSystem; "$($o.FreePhysicalMemory) $($o.TotalVisibleMemorySize)"`

func (p *DefaultProber) windowsMemory(ctx context.Context) (avail, total uint64, err error) {
	out, err := p.proc.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", windowsPSQuery)
	if err != nil {
		return 0, 0, &ProbeError{Op: "query Win32_OperatingSystem", Err: err}
	}
	avail, total, err = parseWindowsMemory(out)
	if err != nil {
		return 0, 0, &ProbeError{Op: "parse Win32_OperatingSystem", Err: err}
	}
	return avail, total, nil
}

func parseWindowsMemory(data []byte) (avail, total uint64, err error) {
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected output %q", strings.TrimSpace(string(data)))
	}
	freeKB, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	totalKB, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return freeKB * 1024, totalKB * 1024, nil
}
