package node

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
)

// HandlePeer processes one encoded peer message and returns an HTTP status
// code with the encoded reply. The error is non-nil only when the message
// never reached the state machine (actor stopped or ctx done).
func (a *Actor) HandlePeer(ctx context.Context, payload []byte) (int, []byte, error) {
	msg, err := rpc.DecodePeer(payload)
	if err != nil {
		a.rejected("malformed")
		return http.StatusBadRequest, []byte(err.Error()), nil
	}

	var (
		code  int
		reply []byte
	)
	if err := a.call(ctx, func() { code, reply = a.handlePeerMessage(msg) }); err != nil {
		return 0, nil, err
	}
	return code, reply, nil
}

func (a *Actor) handlePeerMessage(msg rpc.PeerMessage) (int, []byte) {
	var sender cluster.NodeID
	switch msg.Action {
	case rpc.ActionAppendEntries:
		sender = msg.Leader
	case rpc.ActionRequestVote:
		sender = msg.CandidateID
	default:
		a.rejected("bad_request")
		return http.StatusBadRequest, []byte(fmt.Sprintf("%s: %s", cluster.ErrBadRequest, msg.Action))
	}

	logger := a.logger.With(logging.Action(string(msg.Action)), logging.Peer(string(sender)))
	logger.Debug("peer message", logging.Term(msg.Term))

	if sender == a.cfg.NodeID || !a.cfg.Members.Contains(sender) {
		a.rejected("bad_request")
		return http.StatusBadRequest, []byte(fmt.Sprintf("%s: sender %q", cluster.ErrBadRequest, sender))
	}

	// An offline node takes no part at all, not even term bookkeeping
	if a.status == cluster.StatusOffline {
		a.rejected("offline")
		return http.StatusServiceUnavailable, []byte(cluster.ErrUnavailable.Error())
	}

	if msg.Term < a.term {
		a.rejected("stale_term")
		return http.StatusBadRequest, []byte(cluster.ErrStaleTerm.Error())
	}
	if msg.Term > a.term {
		a.adoptTerm(msg.Term)
	}

	switch msg.Action {
	case rpc.ActionAppendEntries:
		a.setStatus(cluster.StatusFollower, nil)
		a.resetElectionTimer()
		if a.metrics != nil {
			a.metrics.HeartbeatsReceived.Inc()
		}
		return http.StatusOK, rpc.MustEncode(rpc.Appended(a.term))

	default: // RequestVote
		if a.status != cluster.StatusLeader {
			a.resetElectionTimer()
		}
		granted := a.votedFor == ""
		if granted {
			a.votedFor = msg.CandidateID
		}
		logger.Info("vote requested", logging.Term(a.term), logging.Bool("granted", granted))
		if a.metrics != nil {
			a.metrics.RecordVote(granted)
		}
		return http.StatusOK, rpc.MustEncode(rpc.Vote(a.term, granted))
	}
}

// adoptTerm moves to a higher term seen on an inbound RPC. A candidate or
// leader of an older term steps down.
func (a *Actor) adoptTerm(term uint64) {
	a.logger.Debug("adopting higher term", logging.Uint64("from", a.term), logging.Term(term))
	a.term = term
	a.votedFor = ""
	if a.metrics != nil {
		a.metrics.TermsObserved.Inc()
	}
	if a.status == cluster.StatusCandidate || a.status == cluster.StatusLeader {
		a.setStatus(cluster.StatusFollower, nil)
	}
}

func (a *Actor) rejected(reason string) {
	if a.metrics != nil {
		a.metrics.RecordRejectedRPC(reason)
	}
}
