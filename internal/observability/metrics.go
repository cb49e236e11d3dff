package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tickerctl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "commands_total",
			Help:      "Commands applied by the control loop.",
		},
		[]string{"kind"},
	)
	invokesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "invokes_total",
			Help:      "Hub invokes issued.",
		},
		[]string{"method", "success"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "messages_total",
			Help:      "Decoded messages by kind.",
		},
		[]string{"kind"},
	)
	decodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "decode_errors_total",
			Help:      "Payloads dropped because they could not be decoded.",
		},
		[]string{"source"},
	)
	droppedResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "dropped_responses_total",
			Help:      "Responses dropped before correlation.",
		},
		[]string{"reason"},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "reconnects_total",
			Help:      "Reconnect cycles started.",
		},
	)
	connectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "socket",
			Name:      "connection_up",
			Help:      "1 while a hub connection is live.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			commandsTotal, invokesTotal, messagesTotal,
			decodeErrorsTotal, droppedResponsesTotal,
			reconnectsTotal, connectionUp,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordCommand(kind string) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(kind).Inc()
}

func RecordInvoke(method string, success bool) {
	RegisterMetrics()
	invokesTotal.WithLabelValues(method, strconv.FormatBool(success)).Inc()
}

func RecordMessage(kind string) {
	RegisterMetrics()
	messagesTotal.WithLabelValues(kind).Inc()
}

// RecordDecodeError counts a dropped payload; source is push, response or frame.
func RecordDecodeError(source string) {
	RegisterMetrics()
	decodeErrorsTotal.WithLabelValues(source).Inc()
}

func RecordDroppedResponse(reason string) {
	RegisterMetrics()
	droppedResponsesTotal.WithLabelValues(reason).Inc()
}

func RecordReconnect() {
	RegisterMetrics()
	reconnectsTotal.Inc()
}

func SetConnected(up bool) {
	RegisterMetrics()
	if up {
		connectionUp.Set(1)
		return
	}
	connectionUp.Set(0)
}
