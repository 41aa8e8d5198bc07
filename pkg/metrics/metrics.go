package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	// Provider API metrics
	APICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebspin_api_calls_total",
			Help: "Total number of provider API calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	APICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebspin_api_call_duration_seconds",
			Help:    "Provider API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Wait metrics
	WaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebspin_wait_duration_seconds",
			Help:    "Time spent waiting for a resource to settle in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"resource"},
	)

	// Resolver metrics
	AttachTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebspin_attach_total",
			Help: "Total number of attach calls by resolution path and result",
		},
		[]string{"path", "result"},
	)

	AttachDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ebspin_attach_duration_seconds",
			Help:    "End to end attach duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// Reconciler metrics
	CleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebspin_cleanup_total",
			Help: "Total number of superseded resources handled by cleanup, by resource and result",
		},
		[]string{"resource", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(APICallsTotal)
	prometheus.MustRegister(APICallDuration)
	prometheus.MustRegister(WaitDuration)
	prometheus.MustRegister(AttachTotal)
	prometheus.MustRegister(AttachDuration)
	prometheus.MustRegister(CleanupTotal)
}

// ObserveAPICall records one provider call outcome
func ObserveAPICall(operation string, timer *Timer, err error) {
	timer.ObserveDurationVec(APICallDuration, operation)
	APICallsTotal.WithLabelValues(operation, resultOf(err)).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
