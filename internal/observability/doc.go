// Package observability provides monitoring and debugging capabilities for
// relay through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Turn and round throughput per provider and model
//   - Model API request latency and token usage
//   - Tool execution performance
//   - History compressions
//   - RPC request rates and dropped events
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	start := time.Now()
//	// ... issue model request ...
//	metrics.RecordModelRequest("primary", modelID, "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic session/turn/request correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "turn started", "provider", "primary")
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry. Spans cover full turns, model
// rounds, tool executions, and RPC dispatches. When no collector endpoint
// is configured the tracer is a no-op.
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "relay",
//	    ServiceVersion: version,
//	    Endpoint:       cfg.Telemetry.TraceEndpoint,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTurn(ctx, sessionID, "primary", modelID)
//	defer span.End()
//
// # Security Considerations
//
// The logging component automatically redacts API keys, passwords, JWT
// tokens, and bearer tokens, plus custom patterns supplied through
// configuration. Sensitive map keys (password, token, api_key, and
// similar) are redacted wholesale.
package observability
