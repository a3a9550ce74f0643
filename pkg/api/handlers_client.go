package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dd0wney/cluso-raft/pkg/clients"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/identity"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

// handleClientEntry serves GET /{nodeId}. The cluster comes from the signed
// cookie; visitors without a valid one are given a new cluster.
func (s *Server) handleClientEntry(w http.ResponseWriter, r *http.Request) {
	nodeID := cluster.NodeID(mux.Vars(r)["nodeId"])
	if !s.members.Contains(nodeID) {
		s.respondError(w, http.StatusBadRequest, "unknown node")
		return
	}

	clusterID, fresh, err := s.issuer.Resolve(r)
	if fresh && !errors.Is(err, identity.ErrNoCookie) {
		s.logger.Info("replacing invalid cluster cookie", logging.Error(err))
	}

	cookie, err := s.issuer.Cookie(clusterID)
	if err != nil {
		s.logger.Error("failed to sign cluster cookie", logging.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to issue cookie")
		return
	}
	header := http.Header{}
	header.Add("Set-Cookie", cookie.String())

	s.serveClient(w, r, transport.Address{ClusterID: clusterID, NodeID: nodeID}, header)
}

// serveClient upgrades r and hands the socket to the actor for addr. It
// returns once the socket is closed.
func (s *Server) serveClient(w http.ResponseWriter, r *http.Request, addr transport.Address, header http.Header) {
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already answered the request
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		s.recordSession(metrics.SessionFailed, 0)
		return
	}

	conn := clients.NewWebSocketConn(ws, s.readLimit, s.writeTimeout)
	defer conn.Close()

	start := time.Now()
	if err := s.registry.ServeClient(r.Context(), addr, conn); err != nil {
		s.logger.Warn("client rejected",
			logging.Cluster(addr.ClusterID), logging.Node(string(addr.NodeID)), logging.Error(err))
		s.recordSession(metrics.SessionRejected, 0)
		return
	}
	s.recordSession(metrics.SessionClosed, time.Since(start))
}

func (s *Server) recordSession(result string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordClientSession(result, d)
	}
}
