/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIActiveConnections tracks in-flight HTTP requests (including the
	// lifetime of upgraded WebSocket connections).
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studiosignal_api_active_connections",
		Help: "Number of in-flight HTTP/WebSocket connections.",
	})

	// APIRequestDuration records HTTP request latency by method/endpoint/status.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studiosignal_api_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests by method/endpoint/status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiosignal_api_requests_total",
		Help: "Total number of HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	// ConnectedPeers is the current count of registered peers.
	ConnectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studiosignal_connected_peers",
		Help: "Number of peers currently registered.",
	})

	// ActiveRooms is the current count of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studiosignal_active_rooms",
		Help: "Number of rooms currently in existence.",
	})

	// ActiveStreams is the current count of installed streaming-relay
	// sessions, counted from start-stream (CONNECTING) until teardown.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "studiosignal_active_streams",
		Help: "Number of streaming-relay sessions currently forwarding to a sink.",
	})

	// RelayLatency records the time to resolve and forward a signaling message.
	RelayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiosignal_relay_latency_seconds",
		Help:    "Time to resolve the target peer and forward a signaling message.",
		Buckets: prometheus.DefBuckets,
	})

	// MessageTotal counts inbound signaling messages by type.
	MessageTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiosignal_message_total",
		Help: "Total number of inbound signaling messages processed, by type.",
	}, []string{"type"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
