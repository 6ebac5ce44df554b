package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics exposed by the driver. Unlike
// a pool, a single connection has no active/idle/waiting gauges to
// report; what's left is the shape of the wire traffic a connection
// actually generates.
type Collector struct {
	Registry *prometheus.Registry

	connectAttemptsTotal  *prometheus.CounterVec
	connectDuration       *prometheus.HistogramVec
	queriesTotal          *prometheus.CounterVec
	queryDuration         *prometheus.HistogramVec
	bytesSent             prometheus.Counter
	bytesReceived         prometheus.Counter
	notificationsReceived *prometheus.CounterVec
	copyRowsTotal         *prometheus.CounterVec
	connectionsClosed     *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests) — each call creates an
// independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgconn_connect_attempts_total",
				Help: "Connection attempts by outcome (success, auth_failure, error)",
			},
			[]string{"outcome"},
		),
		connectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgconn_connect_duration_seconds",
				Help:    "Time from dial to ReadyForQuery on the startup connection",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"outcome"},
		),
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgconn_queries_total",
				Help: "Queries executed by protocol (simple, extended) and outcome",
			},
			[]string{"protocol", "outcome"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgconn_query_duration_seconds",
				Help:    "Duration from sending a query to its ReadyForQuery",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"protocol"},
		),
		bytesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pgconn_bytes_sent_total",
				Help: "Total bytes written to the backend socket",
			},
		),
		bytesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pgconn_bytes_received_total",
				Help: "Total bytes read from the backend socket",
			},
		),
		notificationsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgconn_notifications_received_total",
				Help: "NotificationResponse messages received, by channel",
			},
			[]string{"channel"},
		),
		copyRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgconn_copy_rows_total",
				Help: "CopyData frames transferred, by direction (in, out)",
			},
			[]string{"direction"},
		),
		connectionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgconn_connections_closed_total",
				Help: "Connections closed, by reason (terminate, error)",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		c.connectAttemptsTotal,
		c.connectDuration,
		c.queriesTotal,
		c.queryDuration,
		c.bytesSent,
		c.bytesReceived,
		c.notificationsReceived,
		c.copyRowsTotal,
		c.connectionsClosed,
	)

	return c
}

// ConnectAttempt records the outcome and duration of a connection attempt.
func (c *Collector) ConnectAttempt(outcome string, d time.Duration) {
	c.connectAttemptsTotal.WithLabelValues(outcome).Inc()
	c.connectDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// QueryCompleted records a completed query's protocol, outcome and duration.
func (c *Collector) QueryCompleted(protocol, outcome string, d time.Duration) {
	c.queriesTotal.WithLabelValues(protocol, outcome).Inc()
	c.queryDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// BytesSent adds n to the bytes-written counter.
func (c *Collector) BytesSent(n int) {
	c.bytesSent.Add(float64(n))
}

// BytesReceived adds n to the bytes-read counter.
func (c *Collector) BytesReceived(n int) {
	c.bytesReceived.Add(float64(n))
}

// NotificationReceived increments the notification counter for channel.
func (c *Collector) NotificationReceived(channel string) {
	c.notificationsReceived.WithLabelValues(channel).Inc()
}

// CopyRows adds n to the CopyData frame counter for direction ("in" or "out").
func (c *Collector) CopyRows(direction string, n int) {
	c.copyRowsTotal.WithLabelValues(direction).Add(float64(n))
}

// ConnectionClosed increments the close counter for reason ("terminate" or "error").
func (c *Collector) ConnectionClosed(reason string) {
	c.connectionsClosed.WithLabelValues(reason).Inc()
}
