package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.PeerRPCsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_peer_rpcs_total",
			Help: "Outbound peer calls",
		},
		[]string{"action", "outcome"},
	)

	r.PeerRPCDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raft_peer_rpc_duration_seconds",
			Help:    "Outbound peer call latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"action"},
	)
}
