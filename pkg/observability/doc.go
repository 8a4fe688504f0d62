// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging, metrics
// collection, health checks, and graceful shutdown coordination for the billing service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.LevelInfo)
//	logger.Info("Server started", "port", 8080)
//
// Context-aware logging:
//
//	logger.WithInvoice(invoiceID).Error("Payment reconciliation failed", err)
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/invoices", "200").Inc()
//	metrics.InvoicesGeneratedTotal.WithLabelValues("rent").Inc()
//
// Sweep metrics:
//
//	metrics.SweepRunsTotal.WithLabelValues("success").Inc()
//	metrics.SweepDueBillables.Set(float64(due))
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// The database is a hard dependency; Redis (sweep lock coordination) only
// degrades readiness when unreachable.
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
