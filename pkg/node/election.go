package node

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

// electionAttempt is one in-flight vote broadcast
type electionAttempt struct {
	term    uint64
	started time.Time
	cancel  context.CancelFunc
}

// startElection moves to a new term as candidate and asks every peer for its
// vote. The broadcast runs off the loop, bounded by a fresh election timeout;
// its result comes back through the mailbox as finishElection.
func (a *Actor) startElection() {
	a.cancelElection()
	a.cancelTimer()

	a.term++
	a.votedFor = a.cfg.NodeID
	a.setStatus(cluster.StatusCandidate, nil)

	timeout := a.cfg.Timing.RandomElectionTimeout()
	ctx, cancel := context.WithTimeout(a.runCtx, timeout)
	attempt := &electionAttempt{term: a.term, started: time.Now(), cancel: cancel}
	a.election = attempt

	a.logger.Info("starting election", logging.Term(a.term), logging.Duration("deadline", timeout))

	payload := rpc.MustEncode(rpc.RequestVote(a.term, a.cfg.NodeID))
	go func() {
		results := a.broadcast(ctx, rpc.ActionRequestVote, payload)
		a.post(func() { a.finishElection(attempt, results) })
	}()
}

// finishElection tallies the replies of attempt. Anything may have happened
// while the votes were outstanding, so status and term are re-checked first.
func (a *Actor) finishElection(attempt *electionAttempt, results []transport.Result) {
	attempt.cancel()
	elapsed := time.Since(attempt.started)

	if a.election != attempt || a.status != cluster.StatusCandidate || a.term != attempt.term {
		if a.election == attempt {
			a.election = nil
		}
		a.logger.Debug("discarding superseded election",
			logging.Term(attempt.term), logging.Status(a.status.String()))
		a.recordElection(metrics.ResultStale, elapsed)
		return
	}
	a.election = nil

	votes := 1 + countVotes(attempt.term, results)
	quorum := a.cfg.Members.Quorum()

	if votes >= quorum {
		a.logger.Info("won election", logging.Term(a.term), logging.Int("votes", votes), logging.Latency(elapsed))
		a.recordElection(metrics.ResultWon, elapsed)
		a.becomeLeader()
		return
	}

	// Lost or split: wait for the next timeout rather than retrying at once
	a.logger.Info("lost election", logging.Term(a.term), logging.Int("votes", votes), logging.Int("quorum", quorum))
	a.recordElection(metrics.ResultLost, elapsed)
	a.setStatus(cluster.StatusFollower, nil)
	a.resetElectionTimer()
}

// countVotes counts granted votes for term. Failed calls and replies for any
// other term are ignored.
func countVotes(term uint64, results []transport.Result) int {
	granted := 0
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		msg, err := rpc.DecodePeer(r.Reply)
		if err != nil {
			continue
		}
		if msg.Action == rpc.ActionVote && msg.Term == term && msg.Granted {
			granted++
		}
	}
	return granted
}

func (a *Actor) cancelElection() {
	if a.election != nil {
		a.election.cancel()
		a.election = nil
	}
}

func (a *Actor) becomeLeader() {
	a.setStatus(cluster.StatusLeader, nil)

	a.leaderCtx, a.leaderCancel = context.WithCancel(a.runCtx)
	a.sendHeartbeats()
	a.armHeartbeat()
}

func (a *Actor) stopHeartbeats() {
	if a.leaderCancel != nil {
		a.leaderCancel()
		a.leaderCancel = nil
		a.leaderCtx = nil
	}
	if a.timer.purpose == timerHeartbeat {
		a.cancelTimer()
	}
}

// sendHeartbeats broadcasts AppendEntries for the current term. Replies are
// advisory: a leader only yields to an inbound AppendEntries or a higher term
// on an inbound RPC.
func (a *Actor) sendHeartbeats() {
	ctx := a.leaderCtx
	if ctx == nil {
		return
	}
	if a.metrics != nil {
		a.metrics.HeartbeatsSent.Inc()
	}

	payload := rpc.MustEncode(rpc.AppendEntries(a.term, a.cfg.NodeID))
	go func() {
		for _, r := range a.broadcast(ctx, rpc.ActionAppendEntries, payload) {
			if r.Err != nil && ctx.Err() == nil {
				a.logger.Debug("heartbeat not acknowledged", logging.Peer(string(r.To.NodeID)), logging.Error(r.Err))
			}
		}
	}()
}

func (a *Actor) broadcast(ctx context.Context, action rpc.Action, payload []byte) []transport.Result {
	t := &observedTransport{next: a.transport, action: action, metrics: a.metrics}
	return transport.Broadcast(ctx, t, a.peers, payload)
}

func (a *Actor) recordElection(result string, d time.Duration) {
	if a.metrics != nil {
		a.metrics.RecordElection(result, d)
	}
}

// observedTransport records the outcome of each peer call
type observedTransport struct {
	next    transport.Transport
	action  rpc.Action
	metrics *metrics.Registry
}

func (o *observedTransport) Send(ctx context.Context, to transport.Address, payload []byte) ([]byte, error) {
	start := time.Now()
	reply, err := o.next.Send(ctx, to, payload)
	if o.metrics != nil {
		o.metrics.RecordPeerRPC(string(o.action), outcome(err), time.Since(start))
	}
	return reply, err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, transport.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if code := transport.StatusCode(err); code != 0 {
		return strconv.Itoa(code)
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}
