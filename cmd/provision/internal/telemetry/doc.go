// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for the
// provisioner.
//
// # Philosophy
//
// Be opinionated about the API, flexible about the backend. Stages use OTel
// APIs directly; operators swap backends through exporter configuration.
//
// # Metrics
//
// Two producers share one prometheus.Registry: the OTel prometheus exporter
// (pipeline stage metrics) and client_golang collectors (inference and HTTP
// gateway). The same registry backs /metrics in `serve` and the node-exporter
// textfile written after CLI runs.
//
// # Logging
//
// Uses slog. NewLogger builds a text or JSON handler; LoggerWithTrace adds
// trace_id and span_id for correlation.
//
// # Environment Variables
//
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - ALEUTIAN_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
