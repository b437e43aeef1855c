// Package metrics provides Prometheus instrumentation for the sync engine.
// It exposes gauges for connection and presence counts, counters for message
// lifecycle operations, and histograms for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duet_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of users with at least one connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duet_online_users",
		Help: "Current number of users with at least one open connection",
	})

	// OperationsTotal counts lifecycle operations by kind and outcome.
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "duet_operations_total",
		Help: "Total number of chat operations processed",
	}, []string{"op", "outcome"}) // op = send/edit/delete/..., outcome = "ok"/"rejected"/"error"

	// FanoutLatency records the time from store commit to NATS publish.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "duet_fanout_latency_seconds",
		Help:    "Latency from store mutation to event publish",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TypingActive tracks the number of (chat, user) typing entries alive.
	TypingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "duet_typing_active",
		Help: "Current number of active typing-indicator entries",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		OperationsTotal,
		FanoutLatency,
		TypingActive,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
