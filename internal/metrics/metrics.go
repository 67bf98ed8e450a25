package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Push metrics
	PushChannels = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedsync_push_channels",
			Help: "Currently registered push channels",
		},
		[]string{"transport"},
	)

	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_push_events_total",
			Help: "Events fanned out by the broadcast hub",
		},
		[]string{"event"},
	)

	PushDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedsync_push_dropped_total",
			Help: "Push channels reaped because their queue was full",
		},
	)

	LongPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_long_polls_total",
			Help: "Completed long-poll requests",
		},
		[]string{"result"}, // "new", "timeout", "cancelled", "error"
	)

	// Feed metrics
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_messages_appended_total",
			Help: "Messages appended to the feed",
		},
		[]string{"type"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"rule"},
	)

	// Relay metrics
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_relay_requests_total",
			Help: "Upstream relay requests by outcome",
		},
		[]string{"kind", "outcome"},
	)

	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedsync_relay_duration_seconds",
			Help:    "Upstream relay duration until the response is fully forwarded",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"kind"},
	)
)
