// Package observability provides structured logging, Prometheus metrics,
// health checks and optional OpenTelemetry tracing for the kindred server.
package observability
