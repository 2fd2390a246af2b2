// README: Prometheus collectors for dispatch, wallet, routing and transport.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campusride"

var (
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status transitions applied"},
		[]string{"to"},
	)
	RideConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_conflicts_total", Help: "Ride transitions rejected by a lost compare-and-swap"},
		[]string{"op"},
	)
	WalletMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "wallet_mutations_total", Help: "Wallet ledger entries appended"},
		[]string{"type"},
	)
	WalletRestrictions = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "wallet_restrictions_total", Help: "Drivers moved to restricted wallet status"},
	)
	SettlementsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "settlements_skipped_total", Help: "Settlements skipped because the due amount changed concurrently"},
	)
	RoutingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "routing_requests_total", Help: "Routing lookups by resolved source"},
		[]string{"source"},
	)
	RoutingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "routing_latency_seconds", Help: "Routing lookup latency", Buckets: prometheus.DefBuckets},
	)
	BroadcastRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{Namespace: namespace, Name: "broadcast_recipients", Help: "Drivers notified per ride request", Buckets: []float64{0, 1, 2, 5, 10, 20}},
	)
	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location updates by outcome"},
		[]string{"outcome"},
	)
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_connections", Help: "Live realtime sessions on this instance"},
	)
	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_messages_dropped_total", Help: "Messages dropped because the session outbox was full"},
	)
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Ride events published by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
