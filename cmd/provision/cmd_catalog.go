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
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/watch"
)

func runCatalogShow(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	c, err := a.loadCatalog()
	if err != nil {
		return withCode(ExitCatalogError, err)
	}
	a.out.catalog(c)
	return nil
}

// runCatalogValidate reports every problem in the catalog, one per line.
func runCatalogValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if len(args) == 1 {
		a.cfg.Catalog.Path = args[0]
	}
	c, err := a.loadCatalog()
	if err != nil {
		problems := catalogProblems(err)
		if a.out.json {
			_ = a.out.writeJSON(map[string]any{"valid": false, "problems": problems})
		} else {
			for _, p := range problems {
				a.out.printf("%s %s\n", errorStyle.Render("✗"), p)
			}
		}
		return reported(ExitCatalogError, err)
	}

	if a.out.json {
		return a.out.writeJSON(map[string]any{"valid": true, "source": c.Source(), "entries": c.Len()})
	}
	a.out.printf("%s %s: %d entries\n", successStyle.Render("✓ valid"), c.Source(), c.Len())
	return nil
}

// catalogProblems flattens a joined validation error into its parts.
func catalogProblems(err error) []string {
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, catalogProblems(e)...)
		}
		return out
	}
	var ce *catalog.CatalogError
	if errors.As(err, &ce) {
		return []string{ce.Error()}
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// runCatalogWatch re-validates the catalog file until interrupted.
func runCatalogWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	path := a.cfg.Catalog.Path
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("catalog watch needs a file: pass a path or --catalog")
	}

	caps, err := a.prober().Probe(cmd.Context())
	if err != nil {
		return withCode(ExitProbeError, err)
	}

	w, err := watch.New(path, caps, func(ev watch.Event) {
		stamp := mutedStyle.Render(ev.Time.Format("15:04:05"))
		if ev.Err != nil {
			for _, p := range catalogProblems(ev.Err) {
				a.out.printf("%s %s %s\n", stamp, errorStyle.Render("✗ rejected:"), p)
			}
			return
		}
		if ev.Selection.Ok() {
			a.out.printf("%s %s %d entries, would select %s\n",
				stamp, successStyle.Render("✓ valid:"), ev.Catalog.Len(), ev.Selection.Selected)
			return
		}
		a.out.printf("%s %s %s\n", stamp, warningStyle.Render("⚠ valid, nothing fits:"), ev.Selection.NoCandidate.Message())
	}, watch.Options{})
	if err != nil {
		return err
	}
	return w.Run(cmd.Context())
}
