package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "heartbeats_total",
		Help: "Location heartbeats emitted over the realtime channel",
	})
	HeartbeatFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "heartbeat_fallbacks_total",
		Help: "Heartbeats that used the jittered fallback coordinate after a position read failure",
	})

	OffersReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "offers_received_total",
		Help: "Inbound ride offers received",
	})
	OffersAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "offers_accepted_total",
		Help: "Ride offers accepted by the driver",
	})
	OffersDeclinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "offers_declined_total",
		Help: "Ride offers declined locally",
	})
	OffersExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "offers_expired_total",
		Help: "Ride offers removed by the accept-window countdown",
	})
	AcceptFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "accept_failures_total",
		Help: "Accept emissions that failed at the channel",
	})

	ChannelReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "channel_reconnects_total",
		Help: "Successful channel reconnections",
	})
	ChannelErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "channel_errors_total",
		Help: "Channel errors, including exhausted reconnect budgets",
	})
	UnknownMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "driver_dispatch", Name: "unknown_messages_total",
		Help: "Inbound channel messages with an unrecognised type",
	})

	PanelTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_dispatch", Name: "panel_transitions_total",
			Help: "Panel detent changes by target detent",
		},
		[]string{"detent"},
	)

	RouteEstimatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driver_dispatch", Name: "route_estimates_total",
			Help: "Route estimation attempts by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "driver_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "driver_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
