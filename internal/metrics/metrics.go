package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StateTransitions counts session state changes by target state
	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsflow_session_transitions_total",
		Help: "Session state transitions by target state",
	}, []string{"to"})

	// ReconnectsScheduled counts retry timers armed by disconnect cause
	ReconnectsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsflow_reconnects_scheduled_total",
		Help: "Reconnection attempts scheduled by disconnect cause",
	}, []string{"cause"})

	PairingChallenges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsflow_pairing_challenges_total",
		Help: "Pairing challenges issued",
	})

	BridgeDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsflow_bridge_deliveries_total",
		Help: "Backend bridge deliveries by event and result",
	}, []string{"event", "result"})

	BridgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatsflow_bridge_delivery_duration_seconds",
		Help:    "Backend bridge delivery duration including retries",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"event"})

	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsflow_messages_received_total",
		Help: "Inbound messages received across all instances",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsflow_messages_sent_total",
		Help: "Outbound sends by result",
	}, []string{"result"})

	// Instances tracks live instances by state
	Instances = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whatsflow_instances",
		Help: "Registered instances by state",
	}, []string{"state"})
)
