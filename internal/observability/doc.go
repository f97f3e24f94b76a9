// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the agent core.
//
// # Logging
//
// Logger wraps log/slog. Identifiers placed on the context with AddSessionID,
// AddUserID, AddTurnID and AddRequestID are attached to every record. Values
// are passed through redaction patterns that strip API keys, bearer tokens and
// database credentials. Callers must not log conversation content; turn
// failures are logged with identifiers only.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Error(ctx, "turn failed", "code", "reasoner_failed")
//
// # Metrics
//
// Metrics registers its collectors on a caller-supplied registry so tests can
// use an isolated prometheus.Registry. Every Record* method is nil-safe.
//
// # Tracing
//
// NewTracer configures an OTLP gRPC exporter when an endpoint is set and
// otherwise falls back to the global tracer provider.
package observability
