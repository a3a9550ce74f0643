package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// BodySizeLimit rejects bodies larger than maxBytes: up front when
// Content-Length says so, otherwise while the handler reads. The early
// rejection uses the API's JSON error shape.
func BodySizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				json.NewEncoder(w).Encode(map[string]any{
					"error":   http.StatusText(http.StatusRequestEntityTooLarge),
					"message": "body exceeds " + strconv.FormatInt(maxBytes, 10) + " bytes",
					"code":    http.StatusRequestEntityTooLarge,
				})
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
