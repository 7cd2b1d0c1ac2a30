// Package metrics holds the Prometheus instruments for the recommendation
// pipeline. Instruments register on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Recommendation requests by outcome: "ok", "gated", "error".
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_advisor_requests_total",
			Help: "Recommendation requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "course_advisor_request_duration_seconds",
			Help:    "Duration of recommendation operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_advisor_cache_lookups_total",
			Help: "Model cache lookups by kind and result (hit, miss)",
		},
		[]string{"kind", "result"},
	)

	// ModelsTrained counts trainer outputs by model kind ("rule", "classifier").
	ModelsTrained = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_advisor_models_trained_total",
			Help: "Models produced by the trainer by kind",
		},
		[]string{"kind"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "course_advisor_training_duration_seconds",
			Help:    "Duration of training passes in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	TrainingRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "course_advisor_training_rows",
			Help: "Rows in the most recent training set",
		},
	)

	// Degradations counts fail-soft paths: "data_source", "model_unavailable",
	// "scoring".
	Degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_advisor_degradations_total",
			Help: "Fail-soft degradations by error class",
		},
		[]string{"class"},
	)

	RecommendationsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "course_advisor_recommendations_returned",
			Help:    "Number of recommendations in a successful result",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
		},
	)

	// Circuit breaker instruments, labelled by breaker name.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "course_advisor_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_advisor_circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker by result (success, failure, rejected, canceled)",
		},
		[]string{"name", "result"},
	)
)

// ObserveRequest records the outcome and duration of one operation.
func ObserveRequest(operation, outcome string, start time.Time) {
	Requests.WithLabelValues(operation, outcome).Inc()
	RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// CacheResult records a cache hit or miss for kind.
func CacheResult(kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(kind, result).Inc()
}
