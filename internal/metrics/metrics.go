package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "appointly"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by destination and result.",
		},
		[]string{"to", "result"},
	)

	sweepItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Bookings processed by lifecycle sweeps.",
		},
		[]string{"sweep", "result"},
	)

	sweepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of lifecycle sweeps.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"sweep"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Booking attempts rejected because the slot was taken.",
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events delivered to sinks by type and result.",
		},
		[]string{"sink", "result"},
	)

	uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the last recorded restart.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, sweepItems, sweepDuration, slotConflicts, eventsPublished, uptime)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// ObserveTransition records a transition attempt; ok=false means it was rejected.
func ObserveTransition(to string, ok bool) {
	transitions.WithLabelValues(to, resultLabel(ok)).Inc()
}

func ObserveSweepItem(sweep string, ok bool) {
	sweepItems.WithLabelValues(sweep, resultLabel(ok)).Inc()
}

func ObserveSweepDuration(sweep string, seconds float64) {
	sweepDuration.WithLabelValues(sweep).Observe(seconds)
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func ObserveEvent(sink string, ok bool) {
	eventsPublished.WithLabelValues(sink, resultLabel(ok)).Inc()
}

func SetUptime(seconds float64) {
	uptime.Set(seconds)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
