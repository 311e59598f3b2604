// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry wiring, health checks and graceful shutdown for the tenancy
// service.
//
// # Structured Logging
//
// Loggers are logrus-backed and emit JSON:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("organization", "acme").Info("organization created")
//
// Request-scoped loggers travel in the context and pick up the correlation
// id and the acting user:
//
//	observability.FromContext(ctx).Warn("member decoration failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordOperation("add_member", "success", time.Since(start))
//
// HTTPMetricsMiddleware labels requests by their gorilla/mux route template.
//
// # Tracing
//
// InitOTel installs OTLP trace and metric exporters when enabled. Metrics
// attached with AttachOTel are mirrored to the OpenTelemetry meter.
//
// # Health Checks
//
// The database is required. Redis is optional and only degrades the status.
//
//	health := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, health)
//
// # Graceful Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.RegisterServer(server)
//	sm.RegisterShutdownFunc(func(ctx context.Context) error { return db.Close() })
//	err := sm.Shutdown(ctx)
package observability
