// Package server runs the raftd HTTP server with graceful shutdown
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/logging"
)

// DefaultShutdownTimeout bounds how long in-flight requests may drain
const DefaultShutdownTimeout = 30 * time.Second

// ConfigReloadFunc is a function that reloads configuration
type ConfigReloadFunc func() error

// GracefulServer wraps an HTTP server with graceful shutdown capabilities
type GracefulServer struct {
	server          *http.Server
	logger          logging.Logger
	shutdownTimeout time.Duration
	shutdownCh      chan struct{}
	shutdownOnce    sync.Once
	shutdownErr     error
	configReloadFn  ConfigReloadFunc
	configMu        sync.RWMutex
}

// NewGracefulServer creates a new graceful HTTP server. Websocket upgrades
// clear the read and write deadlines, so the timeouts only bound plain requests.
func NewGracefulServer(addr string, handler http.Handler, logger logging.Logger) *GracefulServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &GracefulServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		logger:          logger.With(logging.Component("http")),
		shutdownTimeout: DefaultShutdownTimeout,
		shutdownCh:      make(chan struct{}),
	}
}

// SetShutdownTimeout changes how long Serve waits for requests to drain
func (gs *GracefulServer) SetShutdownTimeout(d time.Duration) {
	gs.shutdownTimeout = d
}

// Serve listens on the configured address until ctx is done, then shuts
// down gracefully
func (gs *GracefulServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", gs.server.Addr)
	if err != nil {
		return err
	}
	return gs.ServeListener(ctx, ln)
}

// SetTLSConfig makes Serve and ServeListener accept TLS connections only.
// A nil config serves plain HTTP.
func (gs *GracefulServer) SetTLSConfig(cfg *tls.Config) {
	gs.server.TLSConfig = cfg
}

// ServeListener is Serve on an existing listener
func (gs *GracefulServer) ServeListener(ctx context.Context, ln net.Listener) error {
	if cfg := gs.server.TLSConfig; cfg != nil {
		if len(cfg.NextProtos) == 0 {
			// websocket upgrades need HTTP/1.1
			cfg = cfg.Clone()
			cfg.NextProtos = []string{"http/1.1"}
		}
		ln = tls.NewListener(ln, cfg)
	}
	stop := context.AfterFunc(ctx, func() {
		if err := gs.Shutdown(gs.shutdownTimeout); err != nil {
			gs.logger.Error("shutdown error", logging.Error(err))
		}
	})
	defer stop()

	gs.logger.Info("starting HTTP server",
		logging.String("addr", ln.Addr().String()),
		logging.Bool("tls", gs.server.TLSConfig != nil))
	if err := gs.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Serve returns as soon as Shutdown begins; wait for the drain
	<-gs.shutdownCh
	gs.shutdownOnce.Do(func() {})
	return gs.shutdownErr
}

// Shutdown initiates a graceful shutdown
func (gs *GracefulServer) Shutdown(timeout time.Duration) error {
	gs.shutdownOnce.Do(func() {
		close(gs.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.logger.Info("initiating graceful shutdown", logging.Duration("timeout", timeout))
		if err := gs.server.Shutdown(ctx); err != nil {
			gs.shutdownErr = err
			gs.logger.Error("error during shutdown", logging.Error(err))
		} else {
			gs.logger.Info("server shutdown complete")
		}
	})
	return gs.shutdownErr
}

// IsShuttingDown returns true if shutdown has been initiated
func (gs *GracefulServer) IsShuttingDown() bool {
	select {
	case <-gs.shutdownCh:
		return true
	default:
		return false
	}
}

// ShutdownChannel returns a channel that closes when shutdown is initiated
func (gs *GracefulServer) ShutdownChannel() <-chan struct{} {
	return gs.shutdownCh
}

// SetConfigReloadFunc sets the function to call when configuration reload is triggered
func (gs *GracefulServer) SetConfigReloadFunc(fn ConfigReloadFunc) {
	gs.configMu.Lock()
	defer gs.configMu.Unlock()
	gs.configReloadFn = fn
}

// ReloadConfig triggers a configuration reload
func (gs *GracefulServer) ReloadConfig() error {
	gs.configMu.RLock()
	reloadFn := gs.configReloadFn
	gs.configMu.RUnlock()

	if reloadFn == nil {
		gs.logger.Warn("configuration reload requested, but no reload function configured")
		return nil
	}

	gs.logger.Info("reloading configuration")
	if err := reloadFn(); err != nil {
		gs.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}

	gs.logger.Info("configuration reload complete")
	return nil
}

// HandleSignals returns a context cancelled on SIGINT or SIGTERM. SIGHUP
// reloads configuration through gs without stopping anything.
func (gs *GracefulServer) HandleSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					gs.ReloadConfig()
					continue
				}
				gs.logger.Info("received signal, starting graceful shutdown", logging.String("signal", sig.String()))
				cancel()
				return
			}
		}
	}()

	return ctx, cancel
}
