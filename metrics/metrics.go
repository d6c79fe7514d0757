package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estateflow_transitions_total",
			Help: "Successful workflow transitions by entity",
		},
		[]string{"entity", "transition"},
	)

	CapRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estateflow_cap_rejections_total",
			Help: "Writes refused because a per-property cap was reached",
		},
		[]string{"cap"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estateflow_notifications_sent_total",
			Help: "Notifications persisted by purpose",
		},
		[]string{"purpose"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estateflow_notification_deliveries_total",
			Help: "Delivery attempts per sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estateflow_notification_delivery_seconds",
			Help:    "Time spent handing a notification to a sink",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)
)

// Transition records a successful state change.
func Transition(entity, transition string) {
	Transitions.WithLabelValues(entity, transition).Inc()
}

// CapRejected records a refused append.
func CapRejected(cap string) {
	CapRejections.WithLabelValues(cap).Inc()
}
