package metrics

import (
	"runtime"
	"time"
)

// Election results
const (
	ResultWon   = "won"
	ResultLost  = "lost"
	ResultStale = "stale"
)

// Client session results
const (
	SessionClosed   = "closed"
	SessionRejected = "rejected"
	SessionFailed   = "upgrade_failed"
)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func (r *Registry) IncHTTPRequestsInFlight() { r.HTTPRequestsInFlight.Inc() }
func (r *Registry) DecHTTPRequestsInFlight() { r.HTTPRequestsInFlight.Dec() }

// RecordElection records the outcome of one election attempt
func (r *Registry) RecordElection(result string, duration time.Duration) {
	r.ElectionsTotal.WithLabelValues(result).Inc()
	if result != ResultStale {
		r.ElectionDuration.Observe(duration.Seconds())
	}
}

// RecordTransition records a node status change
func (r *Registry) RecordTransition(from, to string) {
	r.StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordPeerRPC records one outbound peer call. outcome is "ok", "timeout",
// "error" or the peer's status code.
func (r *Registry) RecordPeerRPC(action, outcome string, duration time.Duration) {
	r.PeerRPCsTotal.WithLabelValues(action, outcome).Inc()
	r.PeerRPCDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordVote records a vote this node cast
func (r *Registry) RecordVote(granted bool) {
	if granted {
		r.VotesGrantedTotal.WithLabelValues("granted").Inc()
	} else {
		r.VotesGrantedTotal.WithLabelValues("refused").Inc()
	}
}

// RecordRejectedRPC records an inbound peer call answered with an error
func (r *Registry) RecordRejectedRPC(reason string) {
	r.RejectedRPCsTotal.WithLabelValues(reason).Inc()
}

// RecordClientRequest records a client message and what became of it
func (r *Registry) RecordClientRequest(outcome string) {
	r.ClientRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordPeerMessage records the size of an inbound peer RPC body
func (r *Registry) RecordPeerMessage(size int) {
	r.PeerMessageBytes.Observe(float64(size))
}

// RecordClientSession records a finished websocket session. result is
// "closed" for a session that was served, otherwise why it never attached.
func (r *Registry) RecordClientSession(result string, d time.Duration) {
	r.ClientSessionsTotal.WithLabelValues(result).Inc()
	if result == SessionClosed {
		r.ClientSessionDuration.Observe(d.Seconds())
	}
}

// RecordConfigReload records the outcome of a configuration reload
func (r *Registry) RecordConfigReload(err error) {
	if err != nil {
		r.ConfigReloadsTotal.WithLabelValues("error").Inc()
		return
	}
	r.ConfigReloadsTotal.WithLabelValues("ok").Inc()
	r.ConfigLastReload.SetToCurrentTime()
}

// UpdateSystemMetrics refreshes process gauges
func (r *Registry) UpdateSystemMetrics(start time.Time) {
	r.UptimeSeconds.Set(time.Since(start).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
}
