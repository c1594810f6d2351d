package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "carecore"

// Alert outcomes.
const (
	AlertAcked        = "acked"
	AlertRedelivered  = "redelivered"
	AlertDeadLettered = "dead_lettered"
)

// Assignment outcomes.
const (
	AssignmentAssigned     = "assigned"
	AssignmentUnassignable = "unassignable"
	AssignmentError        = "error"
)

// Broker connection events.
const (
	BrokerConnected    = "connected"
	BrokerDisconnected = "disconnected"
	BrokerReconnected  = "reconnected"
	BrokerClosed       = "closed"
)

var (
	alertsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_processed_total",
			Help:      "Inbound alert messages handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	alertsDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dead_lettered_total",
			Help:      "Poison alert messages routed to the dead-letter subject.",
		},
	)

	alertProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_processing_seconds",
			Help:      "Time from alert receipt to acknowledgment or rejection.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	assignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Auto-assignment attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	rosterRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_requests_total",
			Help:      "Calls to the on-call roster service.",
		},
		[]string{"op", "outcome"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed incident lifecycle operations by action.",
		},
		[]string{"action"},
	)

	notificationsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Outbox messages pushed to the broker, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	brokerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_connection_events_total",
			Help:      "NATS connection state changes by event.",
		},
		[]string{"event"},
	)

	brokerUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broker_connected",
			Help:      "1 while the most recent NATS connection is up.",
		},
	)

	integrityWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_integrity_warnings_total",
			Help:      "Elapsed-time metrics that came out negative.",
		},
		[]string{"metric"},
	)
)

// Register attaches carecore collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		alertsProcessed,
		alertsDeadLettered,
		alertProcessingSeconds,
		assignments,
		rosterRequests,
		transitions,
		notificationsPublished,
		brokerEvents,
		brokerUp,
		integrityWarnings,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func ObserveAlert(d time.Duration, outcome string) {
	alertsProcessed.WithLabelValues(outcome).Inc()
	if outcome == AlertDeadLettered {
		alertsDeadLettered.Inc()
	}
	if d < 0 {
		d = 0
	}
	alertProcessingSeconds.Observe(d.Seconds())
}

func ObserveAssignment(outcome string) {
	assignments.WithLabelValues(outcome).Inc()
}

func ObserveRoster(op string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "unavailable"
	}
	rosterRequests.WithLabelValues(op, outcome).Inc()
}

func ObserveTransition(action string) {
	transitions.WithLabelValues(action).Inc()
}

func ObserveNotification(ok bool) {
	outcome := "published"
	if !ok {
		outcome = "failed"
	}
	notificationsPublished.WithLabelValues(outcome).Inc()
}

func ObserveBroker(event string) {
	brokerEvents.WithLabelValues(event).Inc()
	switch event {
	case BrokerConnected, BrokerReconnected:
		brokerUp.Set(1)
	default:
		brokerUp.Set(0)
	}
}

func ObserveIntegrityWarning(metric string) {
	integrityWarnings.WithLabelValues(metric).Inc()
}
