package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telegraph_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Deliveries counts channel delivery attempts by outcome (sent|failed|disabled|queued).
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegraph_deliveries_total",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"channel", "result"},
	)

	// QueueMessages counts queue operations by queue name and action (enqueue|ack|fail|dead).
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegraph_queue_messages_total",
			Help: "Total number of queue message operations",
		},
		[]string{"queue", "action"},
	)

	// LiveConnections tracks currently registered push connections.
	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telegraph_live_connections",
			Help: "Number of live push connections",
		},
	)
)
