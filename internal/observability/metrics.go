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
			Name: "presence_http_requests_total",
			Help: "Total number of HTTP requests processed by the presence service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "presence_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Number of identities currently online.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_ws_events_total",
			Help: "Total number of websocket events by type.",
		},
		[]string{"event"},
	)
	messagesDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_messages_delivered_total",
			Help: "Total number of messages persisted and fanned out.",
		},
	)
	messagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_messages_dropped_total",
			Help: "Total number of inbound messages dropped before persistence.",
		},
		[]string{"reason"},
	)
	readReceiptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_read_receipts_total",
			Help: "Total number of read-receipt broadcasts.",
		},
	)
	broadcastDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_broadcast_drops_total",
			Help: "Total number of frames dropped because a client send buffer was full.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		onlineUsers,
		wsEventsTotal,
		messagesDeliveredTotal,
		messagesDroppedTotal,
		readReceiptsTotal,
		broadcastDropsTotal,
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

func IncWSActive() { wsActiveConnections.Inc() }
func DecWSActive() { wsActiveConnections.Dec() }

func SetOnlineUsers(n int) { onlineUsers.Set(float64(n)) }

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func IncMessageDelivered()            { messagesDeliveredTotal.Inc() }
func IncMessageDropped(reason string) { messagesDroppedTotal.WithLabelValues(reason).Inc() }
func IncReadReceipt()                 { readReceiptsTotal.Inc() }
func IncBroadcastDrop()               { broadcastDropsTotal.Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
