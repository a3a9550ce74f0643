package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dd0wney/cluso-raft/pkg/registry"
)

const debugTimeout = 2 * time.Second

// handleDebug returns the state of a hosted actor as JSON. Outside
// development it needs the node secret.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	if !s.development && !s.authorized(r) {
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	addr, err := s.address(mux.Vars(r))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), debugTimeout)
	defer cancel()

	snapshot, err := s.registry.State(ctx, addr)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, snapshot)
	case errors.Is(err, registry.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "node is not running")
	default:
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	}
}
