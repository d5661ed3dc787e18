package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"periodcore/pkg/domain"
)

// PrometheusMetricsRecorder exports service metrics as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	latency     *prometheus.HistogramVec
	operations  *prometheus.CounterVec
	corrections *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the collectors with reg. A nil reg
// leaves them unregistered.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "periodcore",
			Name:      "operation_duration_seconds",
			Help:      "Latency of period service operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "periodcore",
			Name:      "operations_total",
			Help:      "Period service operations by outcome.",
		}, []string{"operation", "status"}),
		corrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "periodcore",
			Name:      "corrections_total",
			Help:      "Sibling periods rewritten to keep intervals consistent.",
		}, []string{"kind", "action"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{r.latency, r.operations, r.corrections} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
	r.operations.WithLabelValues(operation, status).Inc()
}

// ObserveCorrections implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveCorrections(_ context.Context, kind domain.Kind, corrections map[string]int) {
	for action, n := range corrections {
		r.corrections.WithLabelValues(string(kind), action).Add(float64(n))
	}
}
