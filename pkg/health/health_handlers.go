package health

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler serves the combined checks. Degraded still answers 200.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check()
		code := http.StatusOK
		if response.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, response)
	}
}

// ReadinessHandler serves readiness checks; anything but healthy is 503
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return binaryHandler(hc.CheckReadiness)
}

// LivenessHandler serves liveness checks; anything but healthy is 503
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return binaryHandler(hc.CheckLiveness)
}

func binaryHandler(check func() Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := check()
		code := http.StatusOK
		if response.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeResponse(w, code, response)
	}
}

func writeResponse(w http.ResponseWriter, code int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
