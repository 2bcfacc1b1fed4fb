// Package telemetry provides logging, tracing, metrics and lifecycle events
// for workflow executions.
//
// # Architecture
//
//  1. Structured Logging - zerolog, with execution, app and node fields
//  2. Distributed Tracing - one OpenTelemetry span per execution and per node
//  3. Metrics Collection - Prometheus counters and histograms under codemother_
//  4. Event Publishing - buffered events, optionally forwarded to NATS
//
// # Usage
//
// Build telemetry from the application config at startup:
//
//	tel, err := telemetry.NewTelemetry(telemetry.FromAppConfig(cfg.Telemetry, version))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// A run is bracketed by the execution helpers and every node visit by the
// node helpers:
//
//	ctx = telemetry.WithExecutionContext(ctx, executionID, appID, "VUE_PROJECT")
//	nodeCtx := telemetry.WithNodeContext(ctx, executionID, "code_generator")
//	err := generate(nodeCtx)
//	telemetry.EndNodeContext(nodeCtx, executionID, "code_generator", err)
//	telemetry.EndExecutionContext(ctx, executionID, appID, "succeeded", err)
//
// # Event Forwarding
//
// When a NATS URL is configured, events that carry an execution ID are
// published as JSON on codemother.exec.<executionId>.events. A NATS server
// that cannot be reached at startup leaves forwarding off.
//
// # Metrics
//
// Metrics.Handler serves the registry; the HTTP server mounts it on /metrics.
// A disabled Metrics accepts every call and records nothing.
package telemetry
