// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// UpdatesTotal tracks inbound bot updates by classified kind.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Inbound bot updates by classification",
		},
		[]string{"kind"},
	)

	// UpdatesDropped tracks updates dropped as malformed or unroutable.
	UpdatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_dropped_total",
			Help: "Inbound bot updates dropped without dispatch",
		},
		[]string{"reason"},
	)

	// ActiveConversations tracks open support conversations.
	ActiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "support_conversations_active",
			Help: "Number of active support conversations",
		},
	)

	// RelaysTotal tracks relayed messages by direction.
	RelaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_relays_total",
			Help: "Messages relayed between user and admin channels",
		},
		[]string{"direction"},
	)

	// SendFailuresTotal tracks outbound send failures by API method.
	SendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_send_failures_total",
			Help: "Outbound platform send failures",
		},
		[]string{"method"},
	)

	// RatingsTotal tracks submitted satisfaction ratings by score.
	RatingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_ratings_total",
			Help: "Submitted conversation ratings by score",
		},
		[]string{"score"},
	)

	// TranscriptPublishFailures tracks failed JetStream transcript publishes.
	TranscriptPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transcript_publish_failures_total",
			Help: "Failed transcript event publishes to JetStream",
		},
	)

	// AssistRequestsTotal tracks suggested-reply drafting attempts.
	AssistRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assist_requests_total",
			Help: "Suggested-reply drafting attempts",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpdate records a classified inbound update.
func RecordUpdate(kind string) {
	UpdatesTotal.WithLabelValues(kind).Inc()
}

// RecordRelay records a relayed message.
func RecordRelay(direction string) {
	RelaysTotal.WithLabelValues(direction).Inc()
}
