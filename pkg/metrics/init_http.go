package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initHTTPMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raft_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	r.HTTPRequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)

	// Peer messages are a few dozen bytes; anything near MaxPeerBody is suspect
	r.PeerMessageBytes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_peer_message_bytes",
			Help:    "Size of peer RPC bodies received over HTTP",
			Buckets: prometheus.ExponentialBuckets(16, 2, 8),
		},
	)

	r.ClientSessionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_client_sessions_total",
			Help: "Websocket client sessions by how they ended",
		},
		[]string{"result"},
	)

	r.ClientSessionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_client_session_duration_seconds",
			Help:    "Lifetime of websocket client sessions",
			Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
		},
	)
}
