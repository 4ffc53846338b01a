package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)

	// Dispatcher Metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_operations_total",
			Help: "Operations processed by the dispatcher",
		},
		[]string{"kind", "origin", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_operation_duration_seconds",
			Help:    "Time from dequeue to reply for a single operation",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_dispatch_queue_depth",
			Help: "Inbound items waiting for the dispatcher",
		},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_decode_failures_total",
			Help: "Inbound payloads that matched no accepted shape",
		},
		[]string{"origin"},
	)

	// Relay Metrics
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_relay_requests_total",
			Help: "Outbound peer relay attempts by result",
		},
		[]string{"peer", "result"},
	)

	RelayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_relay_latency_seconds",
			Help:    "Round trip time of peer relay requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"peer"},
	)

	// Live channel Metrics
	LiveSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_live_sessions_active",
			Help: "Currently attached live sessions",
		},
	)

	LiveFramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_live_frames_sent_total",
			Help: "Push frames queued to live sessions",
		},
		[]string{"frame"},
	)

	LiveFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_live_frames_dropped_total",
			Help: "Push frames dropped because a session buffer was full",
		},
	)

	// Store Metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_operation_duration_seconds",
			Help:    "Durable store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"backend", "operation", "status"},
	)

	StoreConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_conflicts_total",
			Help: "Optimistic transaction retries",
		},
		[]string{"backend"},
	)

	// Archive Metrics
	ArchivePublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_archive_published_total",
			Help: "Committed messages handed to the archive stream",
		},
	)

	ArchiveFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_archive_failed_total",
			Help: "Archive records that could not be delivered",
		},
	)

	// Rate Limiting Metrics
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_exceeded_total",
			Help: "Total number of rate limit violations",
		},
		[]string{"endpoint"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors by code",
		},
		[]string{"code", "path"},
	)

	// System Info
	NodeInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_node_info",
			Help: "Static information about this chat node",
		},
		[]string{"identity", "store_backend"},
	)
)

func boolStatus(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordOperation(kind, origin, outcome string, seconds float64) {
	OperationsTotal.WithLabelValues(kind, origin, outcome).Inc()
	OperationDuration.WithLabelValues(kind).Observe(seconds)
}

func SetDispatchQueueDepth(n int) {
	DispatchQueueDepth.Set(float64(n))
}

func IncrementDecodeFailures(origin string) {
	DecodeFailures.WithLabelValues(origin).Inc()
}

func RecordRelay(peer, result string, seconds float64) {
	RelayRequests.WithLabelValues(peer, result).Inc()
	if seconds > 0 {
		RelayLatency.WithLabelValues(peer).Observe(seconds)
	}
}

func SetLiveSessions(n int) {
	LiveSessionsActive.Set(float64(n))
}

func IncrementFramesSent(frame string, n int) {
	LiveFramesSent.WithLabelValues(frame).Add(float64(n))
}

func IncrementFramesDropped() {
	LiveFramesDropped.Inc()
}

func RecordStoreOperation(backend, operation string, seconds float64, success bool) {
	StoreOperationDuration.WithLabelValues(backend, operation, boolStatus(success)).Observe(seconds)
}

func IncrementStoreConflicts(backend string) {
	StoreConflicts.WithLabelValues(backend).Inc()
}

func IncrementArchivePublished() {
	ArchivePublished.Inc()
}

func IncrementArchiveFailed() {
	ArchiveFailed.Inc()
}

func IncrementRateLimitExceeded(endpoint string) {
	RateLimitExceeded.WithLabelValues(endpoint).Inc()
}

func RecordError(code, path string) {
	ErrorsTotal.WithLabelValues(code, path).Inc()
}

func SetNodeInfo(identity, backend string) {
	NodeInfo.WithLabelValues(identity, backend).Set(1)
}
