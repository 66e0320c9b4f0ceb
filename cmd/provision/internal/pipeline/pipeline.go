// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one provisioning pass end to end.
//
// The stages execute strictly in order against a single capability
// snapshot:
//
//	catalog -> probe -> select -> ensure_present -> materialize -> create -> verify [-> start_server]
//
// The first failing stage aborts the rest and is returned once as a
// *StageError. Every stage gets its own span under a "provision.run" root
// span and a duration sample in the stage histogram.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/catalog"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/probe"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/provision"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/selector"
	"github.com/AleutianAI/AleutianProvision/cmd/provision/internal/verify"
)

// CatalogSource yields the catalog for a run.
type CatalogSource func() (*catalog.Catalog, error)

// ServerStarter brings the inference engine's server up after a confirmed run.
type ServerStarter func(ctx context.Context) error

// Deps are the collaborators a Runner drives.
type Deps struct {
	Catalog     CatalogSource
	Prober      probe.Prober
	Provisioner *provision.Provisioner
	Verifier    *verify.Verifier

	// StartServer is optional; it runs only when Options.StartServer is set.
	StartServer ServerStarter

	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Options are per-run parameters.
type Options struct {
	ModelID     string
	Template    provision.TemplateParams
	MaxAttempts int
	Interval    time.Duration
	DryRun      bool
	StartServer bool
}

// Report records what a run observed and did.
type Report struct {
	RunID         string
	StartedAt     time.Time
	CatalogSource string
	Capabilities  probe.Capabilities
	Selection     selector.Result

	// Selected is the chosen base model; zero when selection found nothing.
	Selected       catalog.ModelDescriptor
	ProvisionState provision.ProvisionState
	ArtifactPath   string
	DerivedModelID string
	Verification   verify.Outcome
	DryRun         bool

	// Stages lists completed and failed stages in execution order.
	Stages    []string
	Durations map[string]time.Duration
	Total     time.Duration
	Outcome   Outcome
}

// Runner executes provisioning passes.
type Runner struct {
	deps    Deps
	tracer  trace.Tracer
	metrics *runMetrics
}

// NewRunner validates deps and builds the otel instruments.
func NewRunner(deps Deps) (*Runner, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New("pipeline: catalog source is required")
	case deps.Prober == nil:
		return nil, errors.New("pipeline: prober is required")
	case deps.Provisioner == nil:
		return nil, errors.New("pipeline: provisioner is required")
	case deps.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	}

	if deps.TracerProvider == nil {
		deps.TracerProvider = otel.GetTracerProvider()
	}
	if deps.MeterProvider == nil {
		deps.MeterProvider = otel.GetMeterProvider()
	}

	m, err := newRunMetrics(deps.MeterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("pipeline: create instruments: %w", err)
	}

	return &Runner{
		deps:    deps,
		tracer:  deps.TracerProvider.Tracer(instrumentationName),
		metrics: m,
	}, nil
}

// Run executes one provisioning pass.
//
// # Description
//
// Loads the catalog, takes one capability snapshot, selects a base model,
// ensures it is present, writes the derived Modelfile, creates the derived
// model and polls until the engine lists it. With DryRun set the pass ends
// after the Modelfile is written.
//
// # Outputs
//
//   - *Report: always non-nil, filled up to the last stage that ran
//   - error: nil on success or verification timeout, else *StageError
//
// A verification timeout is not an error; check Report.Outcome.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.ModelID == "" {
		return nil, errors.New("pipeline: model id is required")
	}

	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		DryRun:    opts.DryRun,
		Durations: make(map[string]time.Duration),
	}

	ctx, root := r.tracer.Start(ctx, "provision.run", trace.WithAttributes(
		attribute.String("provision.run_id", report.RunID),
		attribute.String("provision.model_id", opts.ModelID),
		attribute.Bool("provision.dry_run", opts.DryRun),
	))
	defer root.End()

	err := r.run(ctx, opts, report)
	report.Total = time.Since(report.StartedAt)
	report.Outcome = Classify(err, report)

	root.SetAttributes(attribute.String("provision.outcome", string(report.Outcome)))
	if err != nil {
		root.RecordError(err)
		root.SetStatus(codes.Error, err.Error())
	} else {
		root.SetStatus(codes.Ok, "")
	}
	r.metrics.recordOutcome(ctx, report.Outcome, opts.DryRun)

	slog.Info("Provisioning run finished",
		"run_id", report.RunID,
		"outcome", report.Outcome,
		"duration", report.Total.Round(time.Millisecond))
	return report, err
}

func (r *Runner) run(ctx context.Context, opts Options, report *Report) error {
	var cat *catalog.Catalog
	if err := r.stage(ctx, report, StageCatalog, func(context.Context) error {
		c, err := r.deps.Catalog()
		if err != nil {
			return err
		}
		cat = c
		report.CatalogSource = c.Source()
		return nil
	}); err != nil {
		return &StageError{Stage: StageCatalog, Err: err}
	}

	if err := r.stage(ctx, report, StageProbe, func(ctx context.Context) error {
		caps, err := r.deps.Prober.Probe(ctx)
		if err != nil {
			return err
		}
		report.Capabilities = caps
		return nil
	}); err != nil {
		return &StageError{Stage: StageProbe, Err: err}
	}
	ram := report.Capabilities.AvailableRAMGiB

	if err := r.stage(ctx, report, StageSelect, func(ctx context.Context) error {
		res := selector.Select(cat, report.Capabilities)
		report.Selection = res
		if !res.Ok() {
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String("provision.constraint", string(res.NoCandidate.Constraint)))
			return &NoCandidateError{NoCandidate: *res.NoCandidate}
		}
		report.Selected = *res.Selected
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("provision.base_model", res.Selected.Name))
		return nil
	}); err != nil {
		return &StageError{Stage: StageSelect, AvailableRAMGiB: &ram, Err: err}
	}
	base := report.Selected
	slog.Info("Selected base model",
		"model", base.Name,
		"min_ram_gib", base.MinRAMGiB,
		"available_ram_gib", ram)

	if !opts.DryRun {
		if err := r.stage(ctx, report, StageEnsure, func(ctx context.Context) error {
			state, err := r.deps.Provisioner.EnsurePresent(ctx, base)
			report.ProvisionState = state
			return err
		}); err != nil {
			return &StageError{Stage: StageEnsure, Model: base.Name, AvailableRAMGiB: &ram, Err: err}
		}
	}

	var artifact provision.ConfigArtifact
	if err := r.stage(ctx, report, StageMaterialize, func(context.Context) error {
		a, err := r.deps.Provisioner.MaterializeConfig(base, opts.Template)
		if err != nil {
			return err
		}
		artifact = a
		report.ArtifactPath = a.Path
		return nil
	}); err != nil {
		return &StageError{Stage: StageMaterialize, Model: base.Name, Err: err}
	}

	if opts.DryRun {
		return nil
	}

	report.DerivedModelID = opts.ModelID
	if err := r.stage(ctx, report, StageCreate, func(ctx context.Context) error {
		return r.deps.Provisioner.CreateDerived(ctx, opts.ModelID, artifact)
	}); err != nil {
		return &StageError{Stage: StageCreate, Model: opts.ModelID, Err: err}
	}

	// The verifier never fails; a timeout is reported through the outcome.
	_ = r.stage(ctx, report, StageVerify, func(ctx context.Context) error {
		report.Verification = r.deps.Verifier.Confirm(ctx, opts.ModelID, opts.MaxAttempts, opts.Interval)
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("provision.verification", report.Verification.State.String()),
			attribute.Int("provision.verify_attempts", report.Verification.Attempts))
		return nil
	})

	if opts.StartServer && r.deps.StartServer != nil && report.Verification.State == verify.Confirmed {
		if err := r.stage(ctx, report, StageServe, r.deps.StartServer); err != nil {
			return &StageError{Stage: StageServe, Model: opts.ModelID, Err: err}
		}
	}
	return nil
}

// stage runs fn under its own span and records its duration.
func (r *Runner) stage(ctx context.Context, report *Report, name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "provision."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)

	report.Stages = append(report.Stages, name)
	report.Durations[name] = d
	r.metrics.recordStage(ctx, name, d, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("Stage failed", "stage", name, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
