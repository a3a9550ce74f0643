package middleware

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/logging"
)

// Logging logs every request once it completes. Websocket sessions are
// logged when the socket closes, with their full duration.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)
			next.ServeHTTP(sw, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.Path(r.URL.Path),
				logging.Int("status", sw.statusCode),
				logging.Latency(time.Since(start)),
			}
			if id := GetRequestID(r); id != "" {
				fields = append(fields, logging.String("request_id", id))
			}

			switch {
			case sw.statusCode >= http.StatusInternalServerError:
				logger.Warn("request failed", fields...)
			case sw.hijacked:
				logger.Info("websocket closed", fields...)
			default:
				logger.Debug("request", fields...)
			}
		})
	}
}
