// Package observability provides the logging, metrics, and tracing plumbing
// shared by live sessions.
//
// # Logging
//
// NewLogger builds a *slog.Logger whose handler redacts secrets (API keys,
// bearer tokens, JWTs) from messages and string attributes before they are
// written. Components receive the logger explicitly and fall back to
// slog.Default() when none is given.
//
// # Metrics
//
// Metrics are Prometheus collectors registered against a caller-supplied
// prometheus.Registerer so several sessions (and tests) can share or isolate
// registries. All recording methods are safe on a nil *Metrics.
//
// # Tracing
//
// StartSpan and EndSpan wrap the global OpenTelemetry tracer provider. With no
// provider installed the spans are no-ops.
package observability
