package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "askbot"

// HTTP metrics for the ops server
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)
)

// Chat update metrics
var (
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Total number of chat updates received",
		},
		[]string{"type"}, // command, text, photo, callback, other
	)

	UpdatesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "updates_in_flight",
			Help:      "Current number of chat updates being processed",
		},
	)

	UpdatePanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_panics_total",
			Help:      "Total number of recovered panics while handling updates",
		},
	)

	FloodDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_dropped_total",
			Help:      "Messages dropped by the per-user flood guard",
		},
	)
)

// Entitlement metrics
var (
	AsksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Total number of ask requests by outcome",
		},
		[]string{"kind", "outcome"}, // outcome: answered, denied, upstream_error, storage_error
	)

	SubscriptionsGrantedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_granted_total",
			Help:      "Total number of subscription grants",
		},
		[]string{"tier"},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Entitlement store failures",
		},
		[]string{"op"},
	)

	UsersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users",
			Help:      "Number of known users at the last report",
		},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Number of users with an active subscription at the last report",
		},
	)

	ActiveToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_users_today",
			Help:      "Number of users who consumed free quota today at the last report",
		},
	)
)

// Upstream metrics (aggregate totals - no user label to avoid cardinality)
var (
	AIAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_api_calls_total",
			Help:      "Total number of generative API calls",
		},
		[]string{"provider", "status"},
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_request_duration_seconds",
			Help:      "Generative API latency distribution",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"provider"},
	)

	AITokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_tokens_total",
			Help:      "Total AI tokens consumed",
		},
		[]string{"type"}, // "input" or "output"
	)
)

// Audit log metrics
var (
	AuditRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_total",
			Help:      "Interaction log writes by status",
		},
		[]string{"status"}, // written, failed, dropped
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Interactions waiting to be written",
		},
	)
)
