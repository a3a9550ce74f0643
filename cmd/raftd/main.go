// Command raftd hosts leader-election clusters. Every (cluster, node) pair
// is an actor created on demand; browsers observe and steer nodes over
// websockets while nodes talk to each other through the configured transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-raft/pkg/config"
	"github.com/dd0wney/cluso-raft/pkg/health"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/server"
	tlspkg "github.com/dd0wney/cluso-raft/pkg/tls"
)

const (
	goroutineLimit        = 200000
	systemMetricsInterval = 15 * time.Second
	certificateWarning    = 14 * 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "raftd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(os.Stdout, cfg.LogLevel(), cfg.Log.Format)
	logging.SetDefaultLogger(logger)
	start := time.Now()

	logger.Info("raftd starting",
		logging.String("listen", cfg.Listen),
		logging.String("transport", cfg.Transport.Kind),
		logging.Any("members", cfg.Members),
		logging.Bool("development", cfg.Development),
	)

	m := metrics.NewRegistry()
	peers, err := newPeerStack(cfg, logger, m)
	if err != nil {
		return err
	}
	defer peers.Close()

	hc := health.NewHealthChecker()
	srv, err := newAPIServer(cfg, peers.registry, hc, m, logger)
	if err != nil {
		return err
	}

	gs := server.NewGracefulServer(cfg.Listen, srv.handler, logger)
	gs.SetTLSConfig(srv.tls)
	gs.SetConfigReloadFunc(func() error {
		reloaded, err := config.Load(configPath)
		m.RecordConfigReload(err)
		if err != nil {
			return err
		}
		logger.SetLevel(reloaded.LogLevel())
		logger.Info("log level applied", logging.String("level", reloaded.LogLevel().String()))
		return nil
	})

	var listening atomic.Bool
	hc.RegisterCheck("registry", health.RegistryCheck(peers.registry.Stats))
	hc.RegisterLivenessCheck("goroutines", health.GoroutineCheck(goroutineLimit))
	hc.RegisterReadinessCheck("registry", health.RegistryCheck(peers.registry.Stats))
	hc.RegisterReadinessCheck("draining", health.DrainingCheck(gs.IsShuttingDown))
	if srv.tls != nil {
		info, err := tlspkg.ServingInfo(srv.tls)
		if err != nil {
			return err
		}
		logger.Info("serving TLS",
			logging.String("subject", info.Subject),
			logging.String("not_after", info.NotAfter.UTC().Format(time.RFC3339)))
		hc.RegisterCheck("certificate", health.CertificateCheck(info.NotAfter, certificateWarning))
	}
	if peers.listener != nil {
		check := health.TransportCheck(cfg.Transport.Kind, listening.Load)
		hc.RegisterCheck("transport", check)
		hc.RegisterReadinessCheck("transport", check)
	}

	ctx, cancel := gs.HandleSignals(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return gs.Serve(ctx) })
	g.Go(func() error { return peers.registry.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(systemMetricsInterval)
		defer ticker.Stop()
		for {
			m.UpdateSystemMetrics(start)
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	if peers.listener != nil {
		g.Go(func() error {
			listening.Store(true)
			defer listening.Store(false)
			return peers.listener.Serve(ctx)
		})
	}

	err = g.Wait()

	// Websocket clients were hijacked from the HTTP server and outlive its
	// shutdown; stopping the actors disconnects them
	peers.registry.Close()
	if srv.limiter != nil {
		srv.limiter.Stop()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("raftd stopped with error", logging.Error(err))
		return err
	}
	logger.Info("raftd stopped", logging.Duration("uptime", time.Since(start)))
	return nil
}
