package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groundctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	framesRx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Well-formed frames received, by message.",
		},
		[]string{"message"},
	)
	framesTx = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "link",
			Name:      "frames_sent_total",
			Help:      "Frames written, by message.",
		},
		[]string{"message"},
	)
	linkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "link",
			Name:      "errors_total",
			Help:      "Link errors by transport and operation.",
		},
		[]string{"transport", "op"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Connection state transitions, by target phase.",
		},
		[]string{"phase"},
	)
	paramRerequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "params",
			Name:      "rerequests_total",
			Help:      "Targeted PARAM_REQUEST_READ re-requests for missing slots.",
		},
	)
	paramSets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "params",
			Name:      "set_attempts_total",
			Help:      "PARAM_SET attempts by outcome.",
		},
		[]string{"outcome"},
	)
	streamDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "groundctl",
			Subsystem: "pubsub",
			Name:      "dropped_total",
			Help:      "Values discarded because a subscriber fell behind, by stream.",
		},
		[]string{"stream"},
	)
	syncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "groundctl",
			Subsystem: "params",
			Name:      "sync_duration_seconds",
			Help:      "Full table load duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"complete"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, framesRx, framesTx, linkErrors,
			stateTransitions, paramRerequests, paramSets, streamDrops, syncDuration)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameRx(msgID uint32) {
	RegisterMetrics()
	framesRx.WithLabelValues(dialect.Name(msgID)).Inc()
}

func RecordFrameTx(msgID uint32) {
	RegisterMetrics()
	framesTx.WithLabelValues(dialect.Name(msgID)).Inc()
}

func RecordLinkError(transport, op string) {
	RegisterMetrics()
	linkErrors.WithLabelValues(transport, op).Inc()
}

func RecordStateTransition(phase string) {
	RegisterMetrics()
	stateTransitions.WithLabelValues(phase).Inc()
}

func RecordParamRerequests(n int) {
	RegisterMetrics()
	paramRerequests.Add(float64(n))
}

// RecordSetAttempt counts one PARAM_SET round trip; outcome is "ack",
// "mismatch" or "timeout".
func RecordSetAttempt(outcome string) {
	RegisterMetrics()
	paramSets.WithLabelValues(outcome).Inc()
}

func ObserveSyncDuration(d time.Duration, complete bool) {
	RegisterMetrics()
	syncDuration.WithLabelValues(strconv.FormatBool(complete)).Observe(d.Seconds())
}

// StreamDrops returns a hook counting drops on one broadcast stream.
func StreamDrops(stream string) func() {
	RegisterMetrics()
	return streamDrops.WithLabelValues(stream).Inc
}
