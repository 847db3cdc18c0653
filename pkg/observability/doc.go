// Package observability provides structured logging, Prometheus and
// OpenTelemetry metrics, tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("principal", "user:42").Info("decision")
//
// FromContext enriches the context logger with the request ID, the
// principal and the active trace.
//
// # Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision(ctx, "has_permission", true, "role", elapsed)
//
// Metrics and OTelMetrics both satisfy the recorder interface consumed by
// the authorizer, so either or both may be attached.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddProbe("audit_archive", false, archiver.HealthCheck)
//	observability.RegisterHealthRoutes(mux, checker)
//
// The database probe is critical; other failures report degraded.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "rampart",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
