package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandora_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat daemon.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pandora_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	connectionAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pandora_connection_attempts_total",
			Help: "Total number of authenticate-and-connect attempts.",
		},
	)
	connectionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandora_connection_failures_total",
			Help: "Total number of failed connection attempts.",
		},
		[]string{"stage"},
	)
	channelBindings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pandora_channel_bindings",
			Help: "Number of currently bound conversation channels.",
		},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandora_realtime_events_total",
			Help: "Total number of inbound realtime events by type.",
		},
		[]string{"event"},
	)
	duplicatesSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandora_duplicates_suppressed_total",
			Help: "Total number of inbound messages dropped as duplicates.",
		},
		[]string{"reason"},
	)
	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pandora_sends_total",
			Help: "Total number of message send attempts.",
		},
		[]string{"outcome"},
	)
	notificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pandora_notifications_total",
			Help: "Total number of cross-conversation notifications emitted.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pandora_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		connectionAttemptsTotal,
		connectionFailuresTotal,
		channelBindings,
		realtimeEventsTotal,
		duplicatesSuppressedTotal,
		sendsTotal,
		notificationsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncConnectionAttempt() {
	connectionAttemptsTotal.Inc()
}

func IncConnectionFailure(stage string) {
	connectionFailuresTotal.WithLabelValues(stage).Inc()
}

func SetChannelBindings(n int) {
	channelBindings.Set(float64(n))
}

func IncRealtimeEvent(event string) {
	realtimeEventsTotal.WithLabelValues(event).Inc()
}

func IncDuplicateSuppressed(reason string) {
	duplicatesSuppressedTotal.WithLabelValues(reason).Inc()
}

func IncSend(outcome string) {
	sendsTotal.WithLabelValues(outcome).Inc()
}

func IncNotification() {
	notificationsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
