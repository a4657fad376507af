package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transport metrics
	TransportConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_transport_connected",
			Help: "1 while the dispatch websocket is connected",
		},
	)

	TransportReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_transport_reconnects_total",
			Help: "Total number of scheduled reconnect attempts",
		},
	)

	TransportMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_transport_messages_total",
			Help: "Messages seen by the transport channel",
		},
		[]string{"direction", "type"},
	)

	TransportBufferOverwritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_transport_buffer_overwrites_total",
			Help: "Buffered outbound messages discarded by a later send",
		},
	)

	// Offer metrics
	OffersActiveGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_offers_active",
			Help: "Current number of visible ride offers",
		},
	)

	OffersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_total",
			Help: "Offers by terminal outcome",
		},
		[]string{"outcome"},
	)

	// Auth metrics
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_token_refresh_total",
			Help: "Credential renewal attempts",
		},
		[]string{"result"},
	)

	// Location metrics
	LocationFixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_location_fixes_total",
			Help: "Raw position fixes by gate decision",
		},
		[]string{"decision"},
	)
)

// Label values
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
	OutcomeLost     = "lost"

	ResultSuccess = "success"
	ResultFailure = "failure"

	DecisionAccepted  = "accepted"
	DecisionDiscarded = "discarded"
)
