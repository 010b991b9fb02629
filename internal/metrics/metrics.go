// Package metrics exposes circuit breaker state, queue depth, and
// delivery counters as Prometheus gauges/counters/histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	circuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyhub_circuit_breaker_state",
		Help: "Circuit breaker state per breaker name: 0=closed, 1=open, 2=half_open.",
	}, []string{"breaker"})

	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifyhub_queue_depth",
		Help: "Approximate number of in-flight unacked deliveries per queue.",
	}, []string{"queue"})

	deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyhub_delivery_attempts_total",
		Help: "Count of delivery attempts by channel and outcome.",
	}, []string{"channel", "outcome"})

	deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifyhub_delivery_duration_seconds",
		Help:    "Time spent in the channel adapter send call.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
)

func init() {
	registry.MustRegister(circuitBreakerState, queueDepth, deliveryAttemptsTotal, deliveryDuration)
}

// stateValue maps the breaker's textual state to the gauge's numeric
// encoding, matching the convention used elsewhere in this corpus
// (0=closed, 1=open, 2=half_open).
func stateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// SetCircuitBreakerState records breaker's current state.
func SetCircuitBreakerState(breaker, state string) {
	circuitBreakerState.WithLabelValues(breaker).Set(stateValue(state))
}

// SetQueueDepth records the approximate unacked depth of queue.
func SetQueueDepth(queue string, depth float64) {
	queueDepth.WithLabelValues(queue).Set(depth)
}

// RecordDeliveryAttempt increments the attempt counter for channel/outcome
// ("delivered", "retrying", "dead_lettered").
func RecordDeliveryAttempt(channel, outcome string) {
	deliveryAttemptsTotal.WithLabelValues(channel, outcome).Inc()
}

// ObserveDeliveryDuration records how long a single adapter send call took.
func ObserveDeliveryDuration(channel string, seconds float64) {
	deliveryDuration.WithLabelValues(channel).Observe(seconds)
}

// Handler serves the registered metrics in the Prometheus exposition
// format, for mounting at GET /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
