package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/api"
	"github.com/dd0wney/cluso-raft/pkg/api/middleware"
	"github.com/dd0wney/cluso-raft/pkg/config"
	"github.com/dd0wney/cluso-raft/pkg/health"
	"github.com/dd0wney/cluso-raft/pkg/identity"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/registry"
	tlspkg "github.com/dd0wney/cluso-raft/pkg/tls"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

// peerStack is the registry plus whatever carries its peer traffic
type peerStack struct {
	registry *registry.Registry
	listener *transport.NNGListener // nng only
	closers  []func() error
}

func (p *peerStack) Close() {
	for _, c := range p.closers {
		c()
	}
}

// newPeerStack builds the registry on top of the configured transport.
// With the local transport every node of every cluster lives in this
// process and peer calls never leave it.
func newPeerStack(cfg config.Config, logger logging.Logger, m *metrics.Registry) (*peerStack, error) {
	p := &peerStack{}

	var tr transport.Transport
	switch cfg.Transport.Kind {
	case config.TransportHTTP:
		clientTLS, err := tlspkg.LoadClientConfig(cfg.TLSOptions())
		if err != nil {
			return nil, fmt.Errorf("peer tls: %w", err)
		}
		tr = transport.NewHTTPTransport(&http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     clientTLS,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		}, cfg.Transport.Peers, cfg.NodeSecret)
	case config.TransportNNG:
		nng := transport.NewNNGTransport(transport.NewNNGSocketFactory(), cfg.Transport.Peers, cfg.NodeSecret)
		p.closers = append(p.closers, nng.Close)
		tr = nng
	}

	reg, err := registry.New(registry.Config{
		Members:      cfg.ClusterMembers(),
		Timing:       cfg.ClusterTiming(),
		Transport:    tr,
		Logger:       logger,
		Metrics:      m,
		IdleTTL:      cfg.Registry.IdleTTL,
		ReapInterval: cfg.Registry.ReapInterval,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create registry: %w", err)
	}
	p.registry = reg

	if cfg.Transport.Kind == config.TransportNNG {
		l, err := transport.NewNNGListener(transport.NewNNGSocketFactory(), transport.NNGListenerConfig{
			Address: cfg.Transport.NNGListen,
			Secret:  cfg.NodeSecret,
			Workers: cfg.Transport.NNGWorkers,
			Timeout: cfg.Timing.RPCTimeout,
		}, reg, logger)
		if err != nil {
			reg.Close()
			p.Close()
			return nil, fmt.Errorf("start nng listener: %w", err)
		}
		p.listener = l
	}
	return p, nil
}

type apiServer struct {
	handler http.Handler
	limiter *middleware.RateLimiter
	tls     *tls.Config // nil serves plain HTTP
}

func newAPIServer(cfg config.Config, reg *registry.Registry, hc *health.HealthChecker, m *metrics.Registry, logger logging.Logger) (*apiServer, error) {
	issuer, err := identity.NewIssuer(cfg.Cookie.Secret, identity.Options{
		Domain: cfg.Cookie.Domain,
		Secure: !cfg.Development,
		MaxAge: cfg.Cookie.MaxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("cookie issuer: %w", err)
	}

	trusted, err := middleware.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return nil, err
	}

	serverTLS, err := tlspkg.LoadServerConfig(cfg.TLSOptions())
	if err != nil {
		return nil, fmt.Errorf("listener tls: %w", err)
	}

	var limiter *middleware.RateLimiter
	if cfg.HTTP.ConnectRate > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.HTTP.ConnectRate
		rl.BurstSize = cfg.HTTP.ConnectBurst
		limiter = middleware.NewRateLimiter(rl, logger.With(logging.Component("ratelimit")))
	}

	srv, err := api.NewServer(api.Config{
		Registry:       reg,
		Issuer:         issuer,
		NodeSecret:     cfg.NodeSecret,
		Health:         hc,
		Metrics:        m,
		Logger:         logger,
		Development:    cfg.Development,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: trusted,
		Limiter:        limiter,
		ReadLimit:      cfg.HTTP.ReadLimit,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
	})
	if err != nil {
		if limiter != nil {
			limiter.Stop()
		}
		return nil, err
	}
	return &apiServer{handler: srv.Router(), limiter: limiter, tls: serverTLS}, nil
}
