package node

import (
	"time"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
)

type timerPurpose int

const (
	timerNone timerPurpose = iota
	timerElection
	timerHeartbeat
)

func (p timerPurpose) String() string {
	switch p {
	case timerElection:
		return "election"
	case timerHeartbeat:
		return "heartbeat"
	default:
		return "none"
	}
}

// scheduledTimer is the single timer an actor owns. Every schedule or cancel
// bumps gen, so a firing that was already queued for an older timer is
// recognised and dropped.
type scheduledTimer struct {
	purpose timerPurpose
	gen     uint64
	t       *time.Timer
	due     time.Time
}

func (a *Actor) schedule(purpose timerPurpose, d time.Duration) {
	a.cancelTimer()

	gen := a.timer.gen
	a.timer.purpose = purpose
	a.timer.due = time.Now().Add(d)
	a.timer.t = time.AfterFunc(d, func() {
		a.post(func() { a.onTimer(gen) })
	})
}

func (a *Actor) cancelTimer() {
	if a.timer.t != nil {
		a.timer.t.Stop()
		a.timer.t = nil
	}
	a.timer.purpose = timerNone
	a.timer.due = time.Time{}
	a.timer.gen++
}

func (a *Actor) onTimer(gen uint64) {
	if gen != a.timer.gen {
		return
	}
	purpose := a.timer.purpose
	a.timer.t = nil
	a.timer.purpose = timerNone
	a.timer.due = time.Time{}

	switch purpose {
	case timerElection:
		if a.status == cluster.StatusOffline || a.status == cluster.StatusLeader || a.clients.Len() == 0 {
			return
		}
		a.logger.Info("election timeout", logging.Term(a.term))
		a.startElection()
	case timerHeartbeat:
		if a.status != cluster.StatusLeader {
			return
		}
		a.sendHeartbeats()
		a.armHeartbeat()
	}
}

// resetElectionTimer arms a freshly randomized election timeout. Offline
// actors and actors nobody is watching keep no timer.
func (a *Actor) resetElectionTimer() {
	if a.status == cluster.StatusOffline || a.clients.Len() == 0 {
		a.cancelTimer()
		return
	}
	a.schedule(timerElection, a.cfg.Timing.RandomElectionTimeout())
}

func (a *Actor) armHeartbeat() {
	if a.clients.Len() == 0 {
		a.cancelTimer()
		return
	}
	a.schedule(timerHeartbeat, a.cfg.Timing.HeartbeatInterval)
}
