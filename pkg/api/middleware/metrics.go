package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// MetricsRecorder is an interface for recording HTTP metrics
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncHTTPRequestsInFlight()
	DecHTTPRequestsInFlight()
}

// routeLabel returns the matched route template so cluster IDs never end up
// as label values
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// Metrics creates middleware that tracks HTTP request metrics
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if recorder == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncHTTPRequestsInFlight()
			defer recorder.DecHTTPRequestsInFlight()

			sw := wrap(w)
			next.ServeHTTP(sw, r)

			recorder.RecordHTTPRequest(r.Method, routeLabel(r), strconv.Itoa(sw.statusCode), time.Since(start))
		})
	}
}
