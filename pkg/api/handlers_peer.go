package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dd0wney/cluso-raft/pkg/api/middleware"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

// nodeEndpoint serves /{clusterId}/{nodeId}. Only requests carrying the node
// secret are peer RPCs; everything else, including a wrong secret, is a
// client that already knows its cluster.
func (s *Server) nodeEndpoint(connect func(http.Handler) http.Handler) http.Handler {
	peer := middleware.BodySizeLimit(transport.MaxPeerBody)(http.HandlerFunc(s.handlePeer))
	client := connect(http.HandlerFunc(s.handleClusterClient))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authorized(r) {
			peer.ServeHTTP(w, r)
			return
		}
		if _, ok := r.Header["Authorization"]; ok {
			s.logger.Debug("unauthenticated request treated as client",
				logging.String("remote", r.RemoteAddr), logging.Path(r.URL.Path))
		}
		client.ServeHTTP(w, r)
	})
}

func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.Header().Set("Allow", http.MethodPut)
		s.respondError(w, http.StatusMethodNotAllowed, "peer messages must be PUT")
		return
	}

	addr, err := s.address(mux.Vars(r))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "peer message too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordPeerMessage(len(payload))
	}
	code, reply := s.registry.HandlePeer(r.Context(), addr, payload)
	w.Header().Set("Content-Type", "application/msgpack")
	w.Header().Set("Content-Length", strconv.Itoa(len(reply)))
	w.WriteHeader(code)
	w.Write(reply)
}

// handleClusterClient serves a websocket client addressed by cluster and node
func (s *Server) handleClusterClient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	addr, err := s.address(mux.Vars(r))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveClient(w, r, addr, nil)
}
