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
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/pipeline"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/provision"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/verify"
)

// runProvision executes the full pipeline and maps its outcome to the exit code.
func runProvision(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	// Dry runs lock too: they rewrite the same artifact.
	lock, err := acquireRunLock(filepath.Dir(a.cfg.Derived.ModelfilePath))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	prov := provision.New(a.reg, provision.Options{
		ModelfilePath: a.cfg.Derived.ModelfilePath,
		Progress:      a.out.progress,
	})
	runner, err := pipeline.NewRunner(pipeline.Deps{
		Catalog:     a.loadCatalog,
		Prober:      a.prober(),
		Provisioner: prov,
		Verifier:    verify.New(a.reg),
		StartServer: a.startEngineServer,
	})
	if err != nil {
		return err
	}

	report, runErr := runner.Run(cmd.Context(), pipeline.Options{
		ModelID:     a.cfg.Derived.ModelID,
		Template:    a.cfg.Derived.Template,
		MaxAttempts: a.cfg.Verify.MaxAttempts,
		Interval:    a.cfg.Verify.Interval,
		DryRun:      dryRun,
		StartServer: a.cfg.Engine.StartServer,
	})
	if report == nil {
		return runErr
	}
	a.out.report(report, runErr)
	a.writeTextfile()

	code := outcomeCode(report.Outcome)
	if code == ExitConfirmed {
		return nil
	}
	if runErr == nil {
		runErr = fmt.Errorf("run %s finished with outcome %s", report.RunID, report.Outcome)
	}
	return reported(code, runErr)
}
