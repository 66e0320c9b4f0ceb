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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/pipeline"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/selector"
)

// runSelect probes and selects without contacting the engine.
func runSelect(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.loadCatalog()
	if err != nil {
		return withCode(ExitCatalogError, err)
	}
	caps, err := a.prober().Probe(cmd.Context())
	if err != nil {
		return withCode(ExitProbeError, err)
	}

	res := selector.Select(c, caps)
	a.out.selection(caps, res)
	if !res.Ok() {
		return reported(ExitNoCandidate, &pipeline.NoCandidateError{NoCandidate: *res.NoCandidate})
	}
	return nil
}
