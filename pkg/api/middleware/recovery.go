package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/dd0wney/cluso-raft/pkg/logging"
)

// PanicRecovery recovers from panics in HTTP handlers. The panic and stack
// are logged; the client only sees a 500.
func PanicRecovery(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic in HTTP handler",
						logging.String("method", r.Method),
						logging.Path(r.URL.Path),
						logging.String("panic", fmt.Sprint(err)),
						logging.String("stack", string(debug.Stack())),
						logging.String("request_id", GetRequestID(r)),
					)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
