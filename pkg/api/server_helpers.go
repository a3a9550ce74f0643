package api

import (
	"encoding/json"
	"net/http"

	"github.com/dd0wney/cluso-raft/pkg/api/middleware"
	"github.com/dd0wney/cluso-raft/pkg/logging"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	s.respondJSON(w, status, response)
}

// metricsRecorder keeps a nil registry from becoming a non-nil interface
func (s *Server) metricsRecorder() middleware.MetricsRecorder {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}
