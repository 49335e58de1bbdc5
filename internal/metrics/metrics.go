package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logitrack",
			Name:      "queue_pending_actions",
			Help:      "Actions currently waiting for replay.",
		},
	)

	networkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "logitrack",
			Name:      "network_online",
			Help:      "1 when the fleet API is reachable, 0 when offline.",
		},
	)

	actionsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logitrack",
			Name:      "actions_enqueued_total",
			Help:      "Actions accepted into the queue by type.",
		},
		[]string{"type"},
	)

	actionsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logitrack",
			Name:      "actions_processed_total",
			Help:      "Drain outcomes by action type and result.",
		},
		[]string{"type", "result"},
	)

	deadLetters = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logitrack",
			Name:      "dead_letters_total",
			Help:      "Actions moved to the dead letter collection by reason.",
		},
		[]string{"reason"},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "logitrack",
			Name:      "drain_duration_seconds",
			Help:      "Wall time of one drain pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logitrack",
			Name:      "http_requests_total",
			Help:      "Status API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Drain results recorded by IncProcessed.
const (
	ResultSynced     = "synced"
	ResultRetry      = "retry"
	ResultDeadLetter = "dead_letter"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			queueDepth,
			networkOnline,
			actionsEnqueued,
			actionsProcessed,
			deadLetters,
			drainDuration,
			httpRequests,
		)
	})
}

// SetQueueDepth records the current pending action count.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// SetOnline records the connectivity state.
func SetOnline(online bool) {
	if online {
		networkOnline.Set(1)
	} else {
		networkOnline.Set(0)
	}
}

// IncEnqueued increments the enqueue counter for an action type.
func IncEnqueued(actionType string) {
	actionsEnqueued.WithLabelValues(actionType).Inc()
}

// IncProcessed increments the drain outcome counter.
func IncProcessed(actionType, result string) {
	actionsProcessed.WithLabelValues(actionType, result).Inc()
}

// IncDeadLetter increments the dead letter counter for a reason.
func IncDeadLetter(reason string) {
	deadLetters.WithLabelValues(reason).Inc()
}

// ObserveDrain records the duration of a completed drain pass.
func ObserveDrain(seconds float64) {
	drainDuration.Observe(seconds)
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
