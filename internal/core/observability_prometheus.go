package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatasetObserver is implemented by recorders that also track the size of the
// dataset currently served.
type DatasetObserver interface {
	ObserveDataset(countries, observations int)
}

// PrometheusMetricsRecorder exports operation latencies and outcomes plus the
// served dataset size as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	durations    *prometheus.HistogramVec
	results      *prometheus.CounterVec
	countries    prometheus.Gauge
	observations prometheus.Gauge
}

// NewPrometheusMetricsRecorder registers the pulse_* collectors on reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pulse",
			Name:      "operation_duration_seconds",
			Help:      "Duration of service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "operations_total",
			Help:      "Service operations by outcome.",
		}, []string{"operation", "status"}),
		countries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "dataset_countries",
			Help:      "Countries in the dataset currently served.",
		}),
		observations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "dataset_observations",
			Help:      "Observations kept by the last successful normalization.",
		}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.results, r.countries, r.observations} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register prometheus collector: %w", err)
		}
	}
	return r, nil
}

func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, outcome(success)).Inc()
}

func (r *PrometheusMetricsRecorder) ObserveDataset(countries, observations int) {
	r.countries.Set(float64(countries))
	r.observations.Set(float64(observations))
}
