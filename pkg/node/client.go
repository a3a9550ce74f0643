package node

import (
	"context"

	"github.com/dd0wney/cluso-raft/pkg/clients"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
)

// ServeClient attaches conn as an observer and processes its messages until
// the connection ends, ctx is done or the actor stops. It returns
// ErrActorStopped only when conn could not be attached at all; conn is then
// left open so the caller can retry elsewhere.
func (a *Actor) ServeClient(ctx context.Context, conn clients.Conn) error {
	var c *clients.Client
	if err := a.call(context.Background(), func() { c = a.addClient(conn) }); err != nil {
		return err
	}
	defer a.post(func() { a.removeClient(c) })

	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !clients.IsNormalClose(err) {
				a.logger.Debug("client read ended", logging.Uint64("client", c.ID()), logging.Error(err))
			}
			return nil
		}

		msg, err := rpc.DecodeClient(data)
		if err != nil {
			a.clientRequest("malformed")
			continue
		}
		if !a.post(func() { a.handleClientMessage(c, msg) }) {
			return nil
		}
	}
}

func (a *Actor) addClient(conn clients.Conn) *clients.Client {
	c := a.clients.Add(conn)
	n := a.clients.Len()
	a.clientCount.Store(int32(n))
	if a.metrics != nil {
		a.metrics.ConnectedClients.Inc()
	}

	// Best effort; a client that cannot take it is dropped by the manager
	c.Send(rpc.MustEncode(rpc.Welcome(a.cfg.ClusterID, a.cfg.NodeID, a.status)))
	a.logger.Info("client connected", logging.Uint64("client", c.ID()), logging.Count(n))

	if a.timer.purpose == timerNone && a.election == nil {
		a.wake()
	}
	return c
}

// wake re-arms the timer of an actor that went quiet when its clients left
func (a *Actor) wake() {
	switch a.status {
	case cluster.StatusOffline:
		return
	case cluster.StatusLeader:
		if a.leaderCtx == nil {
			a.leaderCtx, a.leaderCancel = context.WithCancel(a.runCtx)
		}
		a.logger.Info("resuming heartbeats", logging.Term(a.term))
		a.armHeartbeat()
	default:
		a.logger.Info("waking up cluster", logging.Term(a.term))
		a.resetElectionTimer()
	}
}

func (a *Actor) removeClient(c *clients.Client) {
	left, ok := a.clients.Remove(c)
	if !ok {
		return
	}
	a.clientCount.Store(int32(left))
	if a.metrics != nil {
		a.metrics.ConnectedClients.Dec()
	}
	a.logger.Info("client disconnected", logging.Uint64("client", c.ID()), logging.Count(left))

	if left == 0 {
		a.cancelTimer()
		a.logger.Info("no clients left, going quiet", logging.Status(a.status.String()), logging.Term(a.term))
	}
}

// handleClientMessage applies a client's status request. Clients may take a
// node offline or bring an offline node back as follower; nothing else.
func (a *Actor) handleClientMessage(c *clients.Client, msg rpc.ClientMessage) {
	if msg.ClusterID != a.cfg.ClusterID || msg.NodeID != a.cfg.NodeID {
		a.logger.Debug("dropping client message",
			logging.Error(cluster.ErrMisrouted),
			logging.String("to_cluster", msg.ClusterID), logging.String("to_node", string(msg.NodeID)))
		a.clientRequest("misrouted")
		return
	}
	if msg.Action != rpc.ActionSetStatus {
		a.clientRequest("rejected")
		return
	}

	logger := a.logger.With(logging.Uint64("client", c.ID()))

	switch {
	case !msg.Status.ClientSettable():
		logger.Warn("client status request refused",
			logging.Error(cluster.ErrNotPermitted), logging.Status(msg.Status.String()))
		a.clientRequest("rejected")

	case msg.Status == cluster.StatusOffline:
		if a.status == cluster.StatusOffline {
			a.clientRequest("noop")
			return
		}
		logger.Info("client took node offline", logging.Term(a.term))
		a.cancelTimer()
		a.setStatus(cluster.StatusOffline, c)
		a.clientRequest("applied")

	case a.status == cluster.StatusOffline: // follower requested
		logger.Info("client brought node back", logging.Term(a.term))
		a.setStatus(cluster.StatusFollower, c)
		a.resetElectionTimer()
		a.clientRequest("applied")

	default:
		a.clientRequest("noop")
	}
}

// setStatus changes status and tells every client except the given one.
// Leaving leader stops heartbeats; leaving candidate abandons the election.
func (a *Actor) setStatus(status cluster.Status, except *clients.Client) {
	if a.status == status {
		return
	}
	from := a.status

	switch from {
	case cluster.StatusLeader:
		a.stopHeartbeats()
	case cluster.StatusCandidate:
		a.cancelElection()
	}

	a.status = status
	a.logger.Info("status changed",
		logging.String("from", from.String()), logging.Status(status.String()), logging.Term(a.term))
	if a.metrics != nil {
		a.metrics.RecordTransition(from.String(), status.String())
	}

	a.clients.Broadcast(rpc.MustEncode(rpc.SetStatus(a.cfg.ClusterID, a.cfg.NodeID, status)), except)
}

func (a *Actor) clientRequest(outcome string) {
	if a.metrics != nil {
		a.metrics.RecordClientRequest(outcome)
	}
}
