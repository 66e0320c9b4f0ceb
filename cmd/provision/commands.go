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
	"time"

	"github.com/spf13/cobra"
)

var (
	configPath      string
	catalogPath     string
	logLevel        string
	outputFormat    string
	assumeRAM       float64
	assumeGPU       bool
	dryRun          bool
	startServer     bool
	maxAttempts     int
	pollInterval    time.Duration
	metricsTextfile string
	generateFile    string
	generateModel   string
	generateWorkers int
	serveAddr       string

	rootCmd = &cobra.Command{
		Use:   "provision",
		Short: "Provision the largest local model this machine can run",
		Long: `provision measures this host, picks the largest model from the catalog
that fits, makes sure the inference engine has it, writes a derived
Modelfile, registers the derived model and waits until the engine lists it.

Running provision with no subcommand is the same as "provision run".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runProvision,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the full provisioning pipeline",
		Args:  cobra.NoArgs,
		RunE:  runProvision,
	}

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Print the host capability snapshot",
		Args:  cobra.NoArgs,
		RunE:  runProbe, // Defined in cmd_probe.go
	}

	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate the model catalog",
	}
	catalogShowCmd = &cobra.Command{
		Use:   "show",
		Short: "List catalog entries in order",
		Args:  cobra.NoArgs,
		RunE:  runCatalogShow, // Defined in cmd_catalog.go
	}
	catalogValidateCmd = &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a catalog file and report every problem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalogValidate,
	}
	catalogWatchCmd = &cobra.Command{
		Use:   "watch [path]",
		Short: "Re-validate a catalog file on every change",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalogWatch,
	}

	selectCmd = &cobra.Command{
		Use:   "select",
		Short: "Probe and select a base model without touching the engine",
		Args:  cobra.NoArgs,
		RunE:  runSelect, // Defined in cmd_select.go
	}

	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Run a file of prompts through the cached worker pool",
		Long: `generate reads one prompt per non-empty line from --file ("-" for stdin)
and sends them to the derived model through the response cache and a
bounded worker pool. Results print in input order.`,
		Args: cobra.NoArgs,
		RunE: runGenerate, // Defined in cmd_generate.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the derived model over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}
)

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "stop after selection and Modelfile generation")
	f.BoolVar(&startServer, "start-server", false, "start the engine server after a confirmed run")
	f.IntVar(&maxAttempts, "max-attempts", 0, "verification attempts (default from config)")
	f.DurationVar(&pollInterval, "interval", 0, "pause between verification attempts (default from config)")
	f.StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.aleutian-provision/provision.yaml)")
	pf.StringVar(&catalogPath, "catalog", "", "catalog file (default: embedded catalog)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVarP(&outputFormat, "output", "o", "text", "text or json")
	pf.Float64Var(&assumeRAM, "assume-ram", 0, "use this many GiB of available RAM instead of measuring")
	pf.BoolVar(&assumeGPU, "assume-gpu", false, "treat the host as having a usable GPU")

	addRunFlags(rootCmd)
	addRunFlags(runCmd)

	generateCmd.Flags().StringVarP(&generateFile, "file", "f", "", "prompts file, one per line (\"-\" for stdin)")
	generateCmd.Flags().StringVar(&generateModel, "model", "", "model to query (default: derived model)")
	generateCmd.Flags().IntVarP(&generateWorkers, "workers", "w", 0, "concurrent requests (default from config)")
	_ = generateCmd.MarkFlagRequired("file")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	catalogCmd.AddCommand(catalogShowCmd, catalogValidateCmd, catalogWatchCmd)
	rootCmd.AddCommand(runCmd, probeCmd, catalogCmd, selectCmd, generateCmd, serveCmd)
}
