package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSystemMetrics() {
	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_uptime_seconds",
			Help: "Time since the server started in seconds",
		},
	)

	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_goroutines",
			Help: "Number of goroutines",
		},
	)

	r.ConfigReloadsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_config_reloads_total",
			Help: "Configuration reloads triggered by SIGHUP",
		},
		[]string{"result"},
	)

	r.ConfigLastReload = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_config_last_reload_success_timestamp_seconds",
			Help: "Unix time of the last successful configuration reload",
		},
	)
}
