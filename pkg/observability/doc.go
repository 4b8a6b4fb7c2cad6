// Package observability provides structured logging, Prometheus metrics, health probes
// and OpenTelemetry tracing for the gatekeeper.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("port", 8080).Info("Server started")
//
// Request-scoped logging:
//
//	ctx = observability.WithLogger(ctx, logger.WithField("request_id", reqID))
//	observability.LoggerFromContext(ctx).Warn("quota exceeded")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveGateDecision("cloud-service-1", observability.DecisionAllowed, elapsed)
//
// # Health Checks
//
//	health := observability.NewHealthChecker()
//	health.Register("database", store.Ping)
//	router.HandleFunc("/ready", health.Readiness)
package observability
