// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig(), prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_UnknownExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "graphite"
	_, err = Init(context.Background(), cfg, prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusNeedsRegistry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"
	_, err := Init(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrNilRegistry)
}

func TestInit_NoneIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_PrometheusSharesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "prometheus"

	shutdown, err := Init(context.Background(), cfg, reg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	counter, err := otel.Meter("telemetry_test").Int64Counter("test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "test_events_total" {
			found = true
			require.NotEmpty(t, f.GetMetric())
			assert.Equal(t, 3.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "otel counter exported through the shared registry")
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "provision_runs_total", Help: "runs"})
	reg.MustRegister(c)
	c.Add(2)

	path := filepath.Join(t.TempDir(), "provision.prom")
	require.NoError(t, WriteTextfile(reg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provision_runs_total 2")

	err = WriteTextfile(reg, filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}

func TestNewRegistry_HasRuntimeCollectors(t *testing.T) {
	families, err := NewRegistry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "": "INFO", "INFO": "INFO", "warning": "WARN", "error": "ERROR"} {
		lvl, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, lvl.String())
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "model", "gemma2:2b")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "gemma2:2b", rec["model"])

	_, err = NewLogger("info", "xml", &buf)
	assert.Error(t, err)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("info", "json", &buf)
	require.NoError(t, err)

	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	LoggerWithTrace(ctx, logger).Info("traced")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, TraceID(ctx), rec["trace_id"])
	assert.Equal(t, SpanID(ctx), rec["span_id"])
	assert.Len(t, rec["trace_id"], 32)
}

func TestRecordError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "boom", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)

	assert.Equal(t, "", TraceID(context.Background()))
}
