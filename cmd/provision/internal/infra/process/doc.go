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
Package process provides abstractions for external process execution and
inter-process synchronization.

# Overview

  - Manager: runs external commands (the model engine CLI, nvidia-smi,
    sysctl, vm_stat) behind an interface so tests can script their output.
  - Lock: flock(2)-based lock that keeps two provisioning runs from racing
    on the generated Modelfile and the derived model.

# Manager

	pm := process.NewDefaultManager()
	out, err := pm.Run(ctx, "ollama", "list")
	if err != nil {
	    return fmt.Errorf("list models: %w", err)
	}

Failures are returned as *util.CommandError carrying the exit code and the
trimmed stderr, so the engine's own diagnostic reaches the operator.

For tests, use MockManager:

	mock := &process.MockManager{
	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
	        return []byte("NAME ID SIZE MODIFIED\nllama3:latest abc 4.7 GB 2 days ago\n"), nil
	    },
	}

# Lock

	lock := process.NewLock(process.DefaultLockConfig())
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Thread Safety

  - Manager implementations are safe for concurrent use
  - Lock is NOT safe for concurrent use from multiple goroutines
*/
package process
