package observer

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leads_router"

var metricsEnabled = true

// Inbound update metrics. source is "webhook" or "nats", kind is "start",
// "message" or "ignored".
var (
	inboundLabels       = []string{"source", "kind"}
	inboundActionLabels = []string{"source", "action", "error_type"}

	InboundReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_updates_received_total",
			Help:      "Telegram updates received.",
		},
		inboundLabels,
	)
	InboundFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_updates_failed_total",
			Help:      "Telegram updates whose processing returned an error.",
		},
		inboundLabels,
	)
	InboundProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inbound_processing_duration_seconds",
			Help:      "Time spent processing one Telegram update.",
			Buckets:   prometheus.DefBuckets,
		},
		inboundLabels,
	)
	InboundActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_actions_total",
			Help:      "Outcome of queued updates (ack, nak, dlq).",
		},
		inboundActionLabels,
	)
)

// Assignment metrics.
var (
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Leads assigned by round robin, per project.",
		},
		[]string{"project_id"},
	)
	AssignmentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_failures_total",
			Help:      "Round-robin selections that failed.",
		},
		[]string{"project_id", "reason"},
	)
	LeadTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_transitions_total",
			Help:      "Accepted lifecycle events by resulting status.",
		},
		[]string{"event", "status"},
	)
)

// Telegram client metrics.
var (
	TelegramRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_requests_total",
			Help:      "Bot API calls by method and result.",
		},
		[]string{"method", "status"},
	)
	TelegramRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "telegram_request_duration_seconds",
			Help:      "Bot API call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"method"},
	)
)

// Realtime notifier metrics.
var (
	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_connections",
		Help:      "Operators with a live websocket.",
	})
	RealtimeNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_notifications_total",
			Help:      "Live notifications by result (delivered, offline, failed).",
		},
		[]string{"type", "result"},
	)
)

// Bot cache metrics. result is "hit", "miss" or "error".
var (
	CacheChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_checks_total",
			Help:      "Bot cache lookups by key kind and result.",
		},
		[]string{"kind", "result"},
	)
)

// Lead event publisher metrics.
var (
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_events_published_total",
			Help:      "Lead lifecycle events published to NATS.",
		},
		[]string{"type", "status"},
	)
	eventsQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lead_events_queue_length",
		Help:      "Lead events waiting for a publisher worker.",
	})
)

// HTTP and database metrics.
var (
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_operation_duration_seconds",
			Help:      "Histogram of database operation durations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation", "entity", "status"},
	)
)

// Load generator metrics, used by cmd/tester only.
var (
	loadgenRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loadgen_requests_total",
			Help:      "Fake updates sent by the load generator.",
		},
		[]string{"kind", "status"},
	)
)

// InitMetrics toggles collection. promauto already registered everything.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

func IncInboundReceived(source, kind string) {
	if !metricsEnabled {
		return
	}
	InboundReceivedTotal.WithLabelValues(source, kind).Inc()
}

func IncInboundFailed(source, kind string) {
	if !metricsEnabled {
		return
	}
	InboundFailedTotal.WithLabelValues(source, kind).Inc()
}

func ObserveInboundDuration(source, kind string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	InboundProcessingDurationSeconds.WithLabelValues(source, kind).Observe(d.Seconds())
}

func IncInboundAction(source, action, errStr string) {
	if !metricsEnabled {
		return
	}
	InboundActionsTotal.WithLabelValues(source, action, SanitizeErrorType(errStr)).Inc()
}

func IncAssignment(projectID uint) {
	if !metricsEnabled {
		return
	}
	AssignmentsTotal.WithLabelValues(strconv.FormatUint(uint64(projectID), 10)).Inc()
}

func IncAssignmentFailure(projectID uint, reason string) {
	if !metricsEnabled {
		return
	}
	AssignmentFailuresTotal.WithLabelValues(strconv.FormatUint(uint64(projectID), 10), reason).Inc()
}

func IncLeadTransition(event, status string) {
	if !metricsEnabled {
		return
	}
	LeadTransitionsTotal.WithLabelValues(event, status).Inc()
}

func ObserveTelegramRequest(method string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	TelegramRequestsTotal.WithLabelValues(method, status).Inc()
	TelegramRequestDurationSeconds.WithLabelValues(method).Observe(d.Seconds())
}

func SetRealtimeConnections(n int) {
	if !metricsEnabled {
		return
	}
	RealtimeConnections.Set(float64(n))
}

func IncRealtimeNotification(eventType, result string) {
	if !metricsEnabled {
		return
	}
	RealtimeNotificationsTotal.WithLabelValues(eventType, result).Inc()
}

func IncCacheCheck(kind, result string) {
	if !metricsEnabled {
		return
	}
	CacheChecksTotal.WithLabelValues(kind, result).Inc()
}

func IncEventPublished(eventType string, err error) {
	if !metricsEnabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

func SetEventsQueueLength(n int) {
	if !metricsEnabled {
		return
	}
	eventsQueueLength.Set(float64(n))
}

func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if !metricsEnabled {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestDurationSeconds.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(d.Seconds())
}

func IncLoadgenRequest(kind string, err error) {
	if !metricsEnabled {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	loadgenRequestsTotal.WithLabelValues(kind, status).Inc()
}

// SanitizeErrorType buckets an error message into a low-cardinality label.
func SanitizeErrorType(errStr string) string {
	if errStr == "" || errStr == "none" {
		return "none"
	}

	switch {
	case strings.Contains(errStr, "no eligible operator"):
		return "no_operator"
	case strings.Contains(errStr, "database"), strings.Contains(errStr, "SQL"), strings.Contains(errStr, "constraint"), strings.Contains(errStr, "connection"):
		return "database"
	case strings.Contains(errStr, "validation failed"), strings.Contains(errStr, "bad request"), strings.Contains(errStr, "invalid"):
		return "validation"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "delivery failed"), strings.Contains(errStr, "telegram"):
		return "telegram"
	case strings.Contains(errStr, "nats"), strings.Contains(errStr, "jetstream"):
		return "nats"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errStr, "unmarshal"), strings.Contains(errStr, "json"):
		return "unmarshal"
	case strings.Contains(errStr, "panic"):
		return "panic"
	default:
		return "unknown"
	}
}
