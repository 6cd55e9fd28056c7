package core

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// PrometheusMetricsRecorder exports operation latency and outcome counts.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

var _ MetricsRecorder = (*PrometheusMetricsRecorder)(nil)

// NewPrometheusMetricsRecorder registers the recorder's collectors with reg
// under namespace. Registering twice against the same registry reuses the
// existing collectors.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer, namespace string) (*PrometheusMetricsRecorder, error) {
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "operation_duration_seconds",
		Help:      "Latency of service operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"operation"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "service",
		Name:      "operations_total",
		Help:      "Service operations by outcome.",
	}, []string{"operation", "status"})

	var err error
	if durations, err = register(reg, durations); err != nil {
		return nil, err
	}
	if results, err = register(reg, results); err != nil {
		return nil, err
	}
	return &PrometheusMetricsRecorder{durations: durations, results: results}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}
