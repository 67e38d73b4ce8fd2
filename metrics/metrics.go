// Package metrics exposes prometheus collectors for connector calls,
// connections and stream flow control.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sides of a call.
const (
	SideClient = "client"
	SideServer = "server"
)

var (
	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_rpc_calls_total",
			Help: "Operation calls by side, operation and outcome",
		},
		[]string{"side", "operation", "outcome"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_rpc_call_duration_seconds",
			Help:    "Duration of operation calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"side", "operation"},
	)

	connsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connector_rpc_connections_open",
			Help: "Connections currently served",
		},
	)

	handshakeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_rpc_handshake_failures_total",
			Help: "Connections rejected during the handshake",
		},
	)

	streamItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_rpc_stream_items_total",
			Help: "Streamed result items by side",
		},
		[]string{"side"},
	)

	streamPauses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_rpc_stream_pauses_total",
			Help: "Pauses sent by stream producers",
		},
	)

	streamStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_rpc_stream_stops_total",
			Help: "Streams stopped early by the consumer",
		},
	)
)

// Register adds every collector to r.
func Register(r prometheus.Registerer) {
	r.MustRegister(calls, callDuration, connsOpen, handshakeFailures, streamItems, streamPauses, streamStops)
}

// RecordCall counts a finished call and observes its duration.
func RecordCall(side, operation string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	calls.WithLabelValues(side, operation, outcome).Inc()
	callDuration.WithLabelValues(side, operation).Observe(d.Seconds())
}

func ConnOpened()      { connsOpen.Inc() }
func ConnClosed()      { connsOpen.Dec() }
func HandshakeFailed() { handshakeFailures.Inc() }

// StreamItem counts one streamed item seen by side.
func StreamItem(side string) { streamItems.WithLabelValues(side).Inc() }

func StreamPause() { streamPauses.Inc() }
func StreamStop()  { streamStops.Inc() }
