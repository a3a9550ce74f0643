package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	PeerMessageBytes      prometheus.Histogram
	ClientSessionsTotal   *prometheus.CounterVec
	ClientSessionDuration prometheus.Histogram

	// Election Metrics
	ElectionsTotal      *prometheus.CounterVec
	ElectionDuration    prometheus.Histogram
	StatusTransitions   *prometheus.CounterVec
	TermsObserved       prometheus.Counter
	HeartbeatsSent      prometheus.Counter
	HeartbeatsReceived  prometheus.Counter
	VotesGrantedTotal   *prometheus.CounterVec
	RejectedRPCsTotal   *prometheus.CounterVec
	ClientRequestsTotal *prometheus.CounterVec

	// Peer Transport Metrics
	PeerRPCsTotal   *prometheus.CounterVec
	PeerRPCDuration *prometheus.HistogramVec

	// Actor Metrics
	ActiveActors     prometheus.Gauge
	ConnectedClients prometheus.Gauge
	ActorsReaped     prometheus.Counter

	// System Metrics
	UptimeSeconds      prometheus.Gauge
	GoRoutines         prometheus.Gauge
	ConfigReloadsTotal *prometheus.CounterVec
	ConfigLastReload   prometheus.Gauge

	registry *prometheus.Registry
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initHTTPMetrics()
	r.initElectionMetrics()
	r.initTransportMetrics()
	r.initActorMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
