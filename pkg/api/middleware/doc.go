// Package middleware provides the HTTP middleware used by the raftd router.
//
// Every middleware has the shape func(http.Handler) http.Handler so it can be
// handed to mux.Router.Use directly:
//
//	r := mux.NewRouter()
//	r.Use(middleware.RequestID(), middleware.Logging(logger), middleware.PanicRecovery(logger))
//
// The response writer wrapper keeps http.Hijacker working, which websocket
// upgrades depend on.
package middleware
