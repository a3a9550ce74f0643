package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initElectionMetrics() {
	r.ElectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_elections_total",
			Help: "Total number of leader elections started by local nodes",
		},
		[]string{"result"}, // won, lost, stale
	)

	r.ElectionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_election_duration_seconds",
			Help:    "Time from becoming candidate to tallying votes",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
	)

	r.StatusTransitions = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_status_transitions_total",
			Help: "Node status changes",
		},
		[]string{"from", "to"},
	)

	r.TermsObserved = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "raft_term_advances_total",
			Help: "Times a node adopted a higher term from a peer",
		},
	)

	r.HeartbeatsSent = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "raft_heartbeats_sent_total",
			Help: "AppendEntries broadcasts sent by leaders",
		},
	)

	r.HeartbeatsReceived = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "raft_heartbeats_received_total",
			Help: "AppendEntries accepted by followers",
		},
	)

	r.VotesGrantedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_votes_total",
			Help: "Votes cast in answer to RequestVote",
		},
		[]string{"decision"}, // granted, refused
	)

	r.RejectedRPCsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_rejected_rpcs_total",
			Help: "Inbound peer calls answered with an error",
		},
		[]string{"reason"}, // stale_term, offline, bad_request
	)

	r.ClientRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "raft_client_requests_total",
			Help: "Client messages received by nodes",
		},
		[]string{"outcome"}, // applied, noop, rejected, misrouted, malformed
	)
}
