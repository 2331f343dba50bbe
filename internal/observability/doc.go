// Package observability provides logging, metrics and tracing for the
// toolrunner tiers.
//
// # Logging
//
// Logger wraps slog with request correlation and redaction. Context values
// added with AddRequestID, AddAgent, AddTool and AddTier are attached to
// every record; bearer tokens and similar secrets are masked in messages
// and values.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddRequestID(ctx, requestID)
//	logger.Warn(ctx, "run rejected", "kind", "forbidden")
//
// The job tier must not write anything but its result to stdout, so it runs
// with NewNopLogger.
//
// # Metrics
//
// Metrics are registered with an injected prometheus.Registerer so tests can
// use an isolated registry:
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Tracing
//
// Tracer exports spans over OTLP gRPC when an endpoint is configured. W3C
// trace context is propagated from the guard to the runner with InjectHTTP
// and ExtractHTTP regardless of whether export is enabled.
package observability
