package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepalive_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keepalive_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Agent channel
	AgentsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keepalive_agents_connected",
			Help: "Agents currently registered",
		},
	)

	JoinsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepalive_joins_rejected_total",
			Help: "Join attempts rejected at validation",
		},
		[]string{"reason"},
	)

	// Scheduler
	RoomEngines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keepalive_room_engines",
			Help: "Rooms with a running pairing ticker",
		},
	)

	PairsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keepalive_pairs_active",
			Help: "Exchanges currently in flight",
		},
	)

	PairsFormed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keepalive_pairs_formed_total",
			Help: "Pairs formed by pairing ticks",
		},
	)

	PairingSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepalive_pairing_skipped_total",
			Help: "Pairing ticks aborted before forming a pair",
		},
		[]string{"reason"}, // "pool_empty", "pool_error"
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepalive_deliveries_total",
			Help: "Send directions by outcome",
		},
		[]string{"result"}, // "success", "failure"
	)

	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepalive_delivery_attempts_total",
			Help: "Individual send attempts by outcome",
		},
		[]string{"result"}, // "confirmed", "rejected", "timeout", "closed"
	)
)
