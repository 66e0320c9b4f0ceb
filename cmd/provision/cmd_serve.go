// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/server"
)

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	runner, closeStore, err := a.newInference()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			slog.Warn("Response cache close failed", "error", err)
		}
	}()

	srv, err := server.New(runner, server.Options{
		Addr:            a.cfg.Server.Addr,
		DefaultModel:    a.cfg.Derived.ModelID,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		Gatherer:        a.metrics,
	})
	if err != nil {
		return err
	}
	return srv.ListenAndServe(cmd.Context())
}
