package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	InvoicesGeneratedTotal  *prometheus.CounterVec
	InvoicesBackfilledTotal prometheus.Counter
	PaymentsAppliedTotal    *prometheus.CounterVec
	InvoicesVoidedTotal     prometheus.Counter
	InvoicesOverdueTotal    prometheus.Counter
	SettlementsTotal        prometheus.Counter

	// Sweep metrics
	SweepRunsTotal    *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	SweepErrorsTotal  prometheus.Counter
	SweepDueBillables prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaseward_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leaseward_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		InvoicesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaseward_invoices_generated_total",
				Help: "Invoices materialized from recurring billables",
			},
			[]string{"category"},
		),
		InvoicesBackfilledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leaseward_invoices_backfilled_total",
				Help: "Invoices synthesized for back-dated leases",
			},
		),
		PaymentsAppliedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaseward_payments_applied_total",
				Help: "Payment transactions applied, labeled by resulting invoice status",
			},
			[]string{"status"},
		),
		InvoicesVoidedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leaseward_invoices_voided_total",
				Help: "Invoices cancelled via void",
			},
		),
		InvoicesOverdueTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leaseward_invoices_overdue_total",
				Help: "Invoices transitioned to overdue",
			},
		),
		SettlementsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leaseward_settlements_total",
				Help: "Lease settlements executed",
			},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leaseward_sweep_runs_total",
				Help: "Invoice sweep runs, labeled by result (completed, skipped, failed)",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leaseward_sweep_duration_seconds",
				Help:    "Duration of invoice sweep runs",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		SweepErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "leaseward_sweep_errors_total",
				Help: "Billables that failed during a sweep",
			},
		),
		SweepDueBillables: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leaseward_sweep_due_billables",
				Help: "Billables due at the start of the last sweep",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leaseward_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "leaseward_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InvoicesGeneratedTotal,
		m.InvoicesBackfilledTotal,
		m.PaymentsAppliedTotal,
		m.InvoicesVoidedTotal,
		m.InvoicesOverdueTotal,
		m.SettlementsTotal,
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepErrorsTotal,
		m.SweepDueBillables,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// SetDBStats publishes a snapshot of database pool state.
func (m *Metrics) SetDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// CollectDBStats samples the pool gauges at the given interval until the
// context is cancelled.
func (m *Metrics) CollectDBStats(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetDBStats(db.Stats())
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
