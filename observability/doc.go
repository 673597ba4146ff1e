// Package observability records courier metrics. The MetricsExtension
// implements lifecycle hooks and feeds OpenTelemetry counters; the
// CountsCollector exposes persisted envelope counts to Prometheus.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
