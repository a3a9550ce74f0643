// Package api exposes the registry over HTTP: websocket clients, peer RPCs,
// health, metrics and actor inspection.
package api

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-raft/pkg/api/middleware"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/health"
	"github.com/dd0wney/cluso-raft/pkg/identity"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/registry"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

const (
	DefaultReadLimit    = 4096
	DefaultWriteTimeout = 10 * time.Second
)

// Config wires a Server to the rest of the process
type Config struct {
	Registry   *registry.Registry
	Issuer     *identity.Issuer
	NodeSecret string // empty: peer RPCs over HTTP are refused
	Health     *health.HealthChecker
	Metrics    *metrics.Registry // optional
	Logger     logging.Logger

	// Development accepts websockets from any origin and exposes /debug
	// without the node secret
	Development    bool
	AllowedOrigins []string
	TrustedProxies []*net.IPNet
	Limiter        *middleware.RateLimiter // optional, applied to client connects

	ReadLimit    int64
	WriteTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	registry   *registry.Registry
	issuer     *identity.Issuer
	nodeSecret string
	members    cluster.Members
	health     *health.HealthChecker
	metrics    *metrics.Registry
	logger     logging.Logger

	development    bool
	allowedOrigins map[string]bool
	trustedProxies []*net.IPNet
	limiter        *middleware.RateLimiter

	upgrader     websocket.Upgrader
	readLimit    int64
	writeTimeout time.Duration
	startTime    time.Time
}

// NewServer creates a server. Registry and Issuer are required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("api: registry is required")
	}
	if cfg.Issuer == nil {
		return nil, errors.New("api: cookie issuer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Health == nil {
		cfg.Health = health.NewHealthChecker()
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	s := &Server{
		registry:       cfg.Registry,
		issuer:         cfg.Issuer,
		nodeSecret:     cfg.NodeSecret,
		members:        cfg.Registry.Members(),
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger.With(logging.Component("api")),
		development:    cfg.Development,
		allowedOrigins: make(map[string]bool, len(cfg.AllowedOrigins)),
		trustedProxies: cfg.TrustedProxies,
		limiter:        cfg.Limiter,
		readLimit:      cfg.ReadLimit,
		writeTimeout:   cfg.WriteTimeout,
		startTime:      time.Now(),
	}
	for _, origin := range cfg.AllowedOrigins {
		s.allowedOrigins[strings.ToLower(strings.TrimRight(origin, "/"))] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// Router builds the HTTP handler. Fixed paths are registered before the
// catch-all node routes so they win.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.Logging(s.logger),
		middleware.Metrics(s.metricsRecorder()),
		middleware.PanicRecovery(s.logger),
	)

	r.Handle("/health", s.health.HTTPHandler()).Methods(http.MethodGet)
	r.Handle("/health/live", s.health.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/health/ready", s.health.ReadinessHandler()).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/debug/{clusterId}/{nodeId}", s.handleDebug).Methods(http.MethodGet)

	connect := middleware.RateLimit(s.limiter, middleware.ClientIP(s.trustedProxies))
	r.Handle("/{nodeId}", connect(http.HandlerFunc(s.handleClientEntry))).Methods(http.MethodGet)
	r.Handle("/{clusterId}/{nodeId}", s.nodeEndpoint(connect))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// checkOrigin accepts same-origin browsers, configured origins and
// non-browser clients that send no Origin at all
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.development {
		return true
	}
	if s.allowedOrigins[strings.ToLower(strings.TrimRight(origin, "/"))] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// address validates the route variables of a node endpoint
func (s *Server) address(vars map[string]string) (transport.Address, error) {
	addr := transport.Address{ClusterID: vars["clusterId"], NodeID: cluster.NodeID(vars["nodeId"])}
	if err := cluster.ValidateClusterID(addr.ClusterID); err != nil {
		return transport.Address{}, err
	}
	if !s.members.Contains(addr.NodeID) {
		return transport.Address{}, cluster.ErrUnknownNodeID
	}
	return addr, nil
}

// authorized reports whether r carries the node secret
func (s *Server) authorized(r *http.Request) bool {
	return transport.SecretsEqual(r.Header.Get("Authorization"), s.nodeSecret)
}
