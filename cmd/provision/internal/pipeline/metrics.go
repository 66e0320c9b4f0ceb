// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/AleutianAI/AleutianProvision/pipeline"

// runMetrics holds the otel instruments the runner records into.
type runMetrics struct {
	stageLatency metric.Float64Histogram
	outcomes     metric.Int64Counter
}

func newRunMetrics(meter metric.Meter) (*runMetrics, error) {
	stageLatency, err := meter.Float64Histogram(
		"provision_stage_duration_seconds",
		metric.WithDescription("Duration of provisioning pipeline stages"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"provision_runs_total",
		metric.WithDescription("Provisioning runs by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &runMetrics{stageLatency: stageLatency, outcomes: outcomes}, nil
}

func (m *runMetrics) recordStage(ctx context.Context, stage string, d time.Duration, ok bool) {
	m.stageLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", ok),
	))
}

func (m *runMetrics) recordOutcome(ctx context.Context, outcome Outcome, dryRun bool) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Bool("dry_run", dryRun),
	))
}
