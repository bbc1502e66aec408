// Package telemetry collects the node's prometheus metrics behind a
// dedicated registry, exposed by the relay's admin API under /metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delix",
			Name:      "requests_total",
			Help:      "Total number of dispatched requests.",
		},
		[]string{"service", "result"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "delix",
			Name:      "request_duration_seconds",
			Help:      "Latency of dispatched requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"service"},
	)

	Failovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "delix",
			Name:      "failovers_total",
			Help:      "Requests retried against an alternate provider after a transport fault.",
		},
		[]string{"service"},
	)

	Peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "delix",
			Name:      "peers",
			Help:      "Number of known peer nodes.",
		},
	)

	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "delix",
			Name:      "connections",
			Help:      "Number of open peer connections.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "delix",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(RequestsTotal, RequestDuration, Failovers, Peers, Connections, uptime)
}

// Handler exposes the registry, for mounting under /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one dispatched request.
func ObserveRequest(service, result string, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(service, result).Inc()
	RequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}
