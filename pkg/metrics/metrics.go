package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_workers_total",
			Help: "Total number of workers by status",
		},
		[]string{"status"},
	)

	WorkersByCLI = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_workers_by_cli_total",
			Help: "Total number of workers by CLI kind",
		},
		[]string{"cli"},
	)

	// Delivery metrics
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Total number of deliveries by terminal or transitional state",
		},
		[]string{"state"},
	)

	DeliveriesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_deliveries_failed_total",
			Help: "Total number of failed deliveries by reason",
		},
		[]string{"reason"},
	)

	DeliveriesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_deliveries_pending",
			Help: "Current number of deliveries not yet in a terminal state",
		},
	)

	VerificationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_verification_duration_seconds",
			Help:    "Time from injection to verification",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
	)

	DeliveryAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_delivery_attempts",
			Help:    "Number of injection attempts per delivery before a terminal state",
			Buckets: []float64{1, 2, 3, 4},
		},
	)

	// Throttle metrics
	ThrottleDelayMs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_throttle_delay_ms",
			Help: "Current injection delay per worker in milliseconds",
		},
		[]string{"worker"},
	)

	// Dedup cache metrics
	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_dedup_cache_size",
			Help: "Current number of entries held in the dedup cache",
		},
	)

	DedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dedup_hits_total",
			Help: "Total number of event IDs found already present in the dedup cache",
		},
	)

	DedupMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dedup_misses_total",
			Help: "Total number of event IDs not found in the dedup cache",
		},
	)

	// Relaycast metrics
	RelaycastConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_relaycast_connected",
			Help: "Whether the websocket connection to Relaycast is up (1) or down (0)",
		},
	)

	RelaycastReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_relaycast_reconnects_total",
			Help: "Total number of websocket reconnect attempts",
		},
	)

	RelaycastPublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_relaycast_publish_duration_seconds",
			Help:    "Time taken to publish a message to Relaycast",
			Buckets: prometheus.DefBuckets,
		},
	)

	RelaycastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_relaycast_dropped_total",
			Help: "Total number of outbound publishes dropped due to backpressure",
		},
	)

	// Control plane metrics
	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_control_requests_total",
			Help: "Total number of control-plane requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ControlRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_control_request_duration_seconds",
			Help:    "Control-plane request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkersByCLI)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveriesFailedTotal)
	prometheus.MustRegister(DeliveriesPending)
	prometheus.MustRegister(VerificationDuration)
	prometheus.MustRegister(DeliveryAttempts)
	prometheus.MustRegister(ThrottleDelayMs)
	prometheus.MustRegister(DedupCacheSize)
	prometheus.MustRegister(DedupHitsTotal)
	prometheus.MustRegister(DedupMissesTotal)
	prometheus.MustRegister(RelaycastConnected)
	prometheus.MustRegister(RelaycastReconnectsTotal)
	prometheus.MustRegister(RelaycastPublishDuration)
	prometheus.MustRegister(RelaycastDroppedTotal)
	prometheus.MustRegister(ControlRequestsTotal)
	prometheus.MustRegister(ControlRequestDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewTimerFrom creates a timer backed by an already-recorded start time,
// for measuring a duration that began before the Timer existed.
func NewTimerFrom(start time.Time) *Timer {
	return &Timer{start: start}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
