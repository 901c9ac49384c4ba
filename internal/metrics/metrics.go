// Package metrics exposes the Prometheus gauges and counters the
// service reports for the connection registry and delivery queue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cipherline_connected_users",
		Help: "Number of distinct user hexes with at least one open socket on this instance.",
	})

	FramesDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cipherline_frames_dispatched_total",
		Help: "Chat frames routed through the dispatcher, by kind and outcome.",
	}, []string{"kind", "outcome"})

	DeliveryJobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cipherline_delivery_jobs_enqueued_total",
		Help: "Delivery queue jobs published for cross-instance fan-out.",
	})

	DeliveryJobsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cipherline_delivery_jobs_delivered_total",
		Help: "Delivery queue jobs that reached a local socket on this instance.",
	})
)

func init() {
	prometheus.MustRegister(ConnectedUsers, FramesDispatched, DeliveryJobsEnqueued, DeliveryJobsDelivered)
}

// Handler returns the scrape endpoint for Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}
