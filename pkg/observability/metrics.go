package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Membership service metrics
	MembershipOperationsTotal   *prometheus.CounterVec
	MembershipOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheRequestsTotal *prometheus.CounterVec

	// Avatar storage metrics
	AvatarUploadsTotal *prometheus.CounterVec
	AvatarUploadBytes  prometheus.Histogram

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge

	otel *OTelMetrics
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		MembershipOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_membership_operations_total",
				Help: "Total number of organization and membership operations by outcome",
			},
			[]string{"operation", "result"},
		),
		MembershipOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_membership_operation_duration_seconds",
				Help:    "Organization and membership operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_cache_requests_total",
				Help: "Organization cache lookups by tier and result",
			},
			[]string{"tier", "result"},
		),

		AvatarUploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_avatar_uploads_total",
				Help: "Avatar uploads to object storage by status",
			},
			[]string{"status"},
		),
		AvatarUploadBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenancy_avatar_upload_bytes",
				Help:    "Size of uploaded avatars in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 6),
			},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tenancy_db_wait_count",
			Help: "Total number of connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.MembershipOperationsTotal,
		m.MembershipOperationDuration,
		m.CacheRequestsTotal,
		m.AvatarUploadsTotal,
		m.AvatarUploadBytes,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// AttachOTel mirrors operation and cache measurements to OpenTelemetry
func (m *Metrics) AttachOTel(o *OTelMetrics) {
	m.otel = o
}

// RecordOperation records the outcome of a membership service operation
func (m *Metrics) RecordOperation(operation, result string, duration time.Duration) {
	m.MembershipOperationsTotal.WithLabelValues(operation, result).Inc()
	m.MembershipOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if m.otel != nil {
		m.otel.RecordOperation(context.Background(), operation, result, duration)
	}
}

// RecordCacheRequest records an organization cache lookup
func (m *Metrics) RecordCacheRequest(tier, result string) {
	m.CacheRequestsTotal.WithLabelValues(tier, result).Inc()
	if m.otel != nil {
		m.otel.RecordCacheRequest(context.Background(), tier, result)
	}
}

// RecordAvatarUpload records an avatar upload attempt
func (m *Metrics) RecordAvatarUpload(status string, size int64) {
	m.AvatarUploadsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.AvatarUploadBytes.Observe(float64(size))
	}
}

// UpdateDBStats copies connection pool statistics into the gauges
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so organization names do not
// become label values.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
