// Package telemetry provides observability instrumentation for froyovm.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry) and metrics (Prometheus) for the configuration
// pipeline: loading scopes, merging them, finalizing a machine and
// validating it.
//
// # Usage
//
// Initialize telemetry at startup and carry it in the context:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.TextfilePath = "/var/lib/node_exporter/froyovm.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Code that is handed the context records through it. Every recorder is
// safe to call when no telemetry was installed:
//
//	op := telemetry.StartOperation(ctx, "config.finalize", telemetry.AttrMachine.String(name))
//	err := cfg.Finalize(reg)
//	op.End(err)
//
//	telemetry.MetricsFromContext(ctx).RecordFindings("vm", 2)
//
// # Metrics
//
//   - froyovm_scopes_loaded_total{format}
//   - froyovm_load_errors_total{class}
//   - froyovm_merges_total
//   - froyovm_finalize_duration_seconds
//   - froyovm_resolutions_total{provider,status}
//   - froyovm_validation_findings_total{category}
//   - froyovm_watch_revalidations_total
//
// Metrics are served over HTTP when MetricsConfig.ListenAddress is set and
// written in the text exposition format on Shutdown when TextfilePath is.
//
// # Tracing
//
// Supported exporters: OTLP over gRPC (production) and stdout (development).
package telemetry
