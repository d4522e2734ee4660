package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-wide Prometheus metrics. Module-specific metrics live
// next to their module (see internal/referral/metrics).
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

// New creates and registers all process-wide Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carelink_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by method and status class",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "status"}),
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_http_requests_total",
			Help: "Total HTTP requests by method and status class",
		}, []string{"method", "status"}),
	}
}

// ObserveRequest records one HTTP request observation.
func (m *Metrics) ObserveRequest(method, status string, start time.Time) {
	m.HTTPRequestDuration.WithLabelValues(method, status).Observe(time.Since(start).Seconds())
	m.HTTPRequestsTotal.WithLabelValues(method, status).Inc()
}
