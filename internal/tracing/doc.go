// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package tracing provides distributed tracing and Prometheus metrics for the
compiler and controller.

# Overview

The tracing package supports:

  - Distributed tracing via OpenTelemetry, with spans around each
    Compiler.Generate call and each process chain step
  - Prometheus metrics export for submissions, compilations, chain steps,
    and reclaimed leases
  - Configurable head sampling, with errors always sampled

# Quick Start

	cfg := tracing.DefaultConfig()
	cfg.Enabled = true
	cfg.ServiceName = "workflowc"

	provider, err := tracing.NewOTelProviderWithConfig(cfg)
	if err != nil {
		...
	}
	defer provider.Shutdown(ctx)

	tracer := provider.Tracer("controller")
	ctx, span := tracer.Start(ctx, "generate",
		observability.WithAttributes(map[string]any{"submission.id": id}),
	)
	defer span.End()

# Metrics

	collector := provider.MetricsCollector()
	collector.RecordSubmissionStart(ctx, submissionID)
	collector.RecordSubmissionComplete(ctx, submissionID, "SUCCESS", duration)

Metrics are exposed via provider.MetricsHandler() on /metrics:

  - workflowc_submissions_total{status}
  - workflowc_submission_duration_seconds{status}
  - workflowc_generate_total{status}
  - workflowc_chain_steps_total{action,status}
  - workflowc_lease_expired_total
  - workflowc_active_submissions
  - workflowc_queue_depth

# Key Components

  - OTelProvider: OpenTelemetry SDK wrapper implementing observability.TracerProvider
  - MetricsCollector: Prometheus metrics recording
  - Sampler: configurable trace sampling (NewSampler, NewDeterministicSampler, NewRandomSampler)
  - Exporter: trace export to OTLP, OTLP/HTTP, or console (see export subpackage)
*/
package tracing
