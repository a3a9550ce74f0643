package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initActorMetrics() {
	r.ActiveActors = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_active_actors",
			Help: "Node actors currently hosted by this process",
		},
	)

	r.ConnectedClients = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_connected_clients",
			Help: "Observer connections across all hosted actors",
		},
	)

	r.ActorsReaped = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "raft_actors_reaped_total",
			Help: "Idle node actors stopped by the reaper",
		},
	)
}
