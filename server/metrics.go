package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus collectors, process-wide across every Server
// instance in the binary. This mirrors the pack's own metrics style
// (registered once at package init, read by any number of instances)
// rather than a per-instance registry, so creating many short-lived
// Servers in a test binary never double-registers a collector.
var (
	sessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wsrpc",
		Subsystem: "server",
		Name:      "sessions_connected",
		Help:      "Current number of open sessions.",
	})
	framesIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wsrpc",
		Subsystem: "server",
		Name:      "frames_in_total",
		Help:      "Inbound frames received across all sessions.",
	})
	framesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wsrpc",
		Subsystem: "server",
		Name:      "frames_out_total",
		Help:      "Outbound frames sent across all sessions.",
	})
	heartbeatTerminations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wsrpc",
		Subsystem: "server",
		Name:      "heartbeat_terminations_total",
		Help:      "Sessions terminated by the heartbeat ticker for missing a pong.",
	})
	dispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wsrpc",
		Subsystem: "server",
		Name:      "dispatch_errors_total",
		Help:      "Handler invocations that returned an error.",
	})
	notificationErrorsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wsrpc",
		Subsystem: "server",
		Name:      "notification_errors_total",
		Help:      "notification_error events observed from peers.",
	})
)

// Metrics is a thin handle onto the package-level collectors, kept so
// Server's fields read naturally as s.metrics.framesIn.Inc() without every
// call site reaching for a package-level identifier directly.
type Metrics struct {
	sessionsConnected     prometheus.Gauge
	framesIn              prometheus.Counter
	framesOut             prometheus.Counter
	heartbeatTerminations prometheus.Counter
	dispatchErrors        prometheus.Counter
	notificationErrors    prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		sessionsConnected:     sessionsConnected,
		framesIn:              framesIn,
		framesOut:             framesOut,
		heartbeatTerminations: heartbeatTerminations,
		dispatchErrors:        dispatchErrors,
		notificationErrors:    notificationErrorsMetric,
	}
}
