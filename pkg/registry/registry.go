// Package registry hosts node actors keyed by (clusterId, nodeId). Actors are
// created on first use and reaped once nobody has needed them for a while.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/clients"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/health"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/node"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

const (
	DefaultIdleTTL      = 5 * time.Minute
	DefaultReapInterval = time.Minute
)

var (
	ErrClosed   = errors.New("registry closed")
	ErrNotFound = errors.New("actor not found")
)

// Config configures a registry. Every actor it creates shares Members,
// Timing and Transport.
type Config struct {
	Members      cluster.Members
	Timing       cluster.Timing
	Transport    transport.Transport // nil: dispatch in-process to this registry
	Logger       logging.Logger
	Metrics      *metrics.Registry // optional
	IdleTTL      time.Duration     // (default: DefaultIdleTTL)
	ReapInterval time.Duration     // (default: DefaultReapInterval)
	Outbox       int
	Mailbox      int
}

// Registry owns every actor hosted by this process
type Registry struct {
	cfg       Config
	transport transport.Transport
	logger    logging.Logger
	metrics   *metrics.Registry

	mu     sync.Mutex
	actors map[string]*node.Actor
	closed bool
}

// New creates an empty registry
func New(cfg Config) (*Registry, error) {
	if err := cfg.Members.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Timing.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}

	r := &Registry{
		cfg:     cfg,
		logger:  cfg.Logger.With(logging.Component("registry")),
		metrics: cfg.Metrics,
		actors:  make(map[string]*node.Actor),
	}

	r.transport = cfg.Transport
	if r.transport == nil {
		r.transport = transport.NewLocalTransport(r)
	}
	return r, nil
}

// Members returns the configured cluster membership
func (r *Registry) Members() cluster.Members {
	return r.cfg.Members
}

func (r *Registry) validate(addr transport.Address) error {
	if err := cluster.ValidateClusterID(addr.ClusterID); err != nil {
		return err
	}
	if !r.cfg.Members.Contains(addr.NodeID) {
		return fmt.Errorf("%w: %q is not a member", cluster.ErrUnknownNodeID, addr.NodeID)
	}
	return nil
}

// Get returns the actor for addr, creating it if needed. The actor is
// touched under the registry lock so the reaper cannot take it away before
// the caller uses it.
func (r *Registry) Get(addr transport.Address) (*node.Actor, error) {
	if err := r.validate(addr); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	key := addr.Key()
	if a, ok := r.actors[key]; ok {
		select {
		case <-a.Done():
			// Stopped out from under us; replace it below
			r.forgetLocked(key)
		default:
			a.Touch()
			return a, nil
		}
	}

	a, err := node.New(node.Config{
		ClusterID: addr.ClusterID,
		NodeID:    addr.NodeID,
		Members:   r.cfg.Members,
		Timing:    r.cfg.Timing,
		Transport: r.transport,
		Logger:    r.cfg.Logger,
		Metrics:   r.metrics,
		Outbox:    r.cfg.Outbox,
		Mailbox:   r.cfg.Mailbox,
	})
	if err != nil {
		return nil, err
	}

	r.actors[key] = a
	if r.metrics != nil {
		r.metrics.ActiveActors.Inc()
	}
	r.logger.Debug("actor created", logging.Cluster(addr.ClusterID), logging.Node(string(addr.NodeID)))
	return a, nil
}

// Lookup returns the actor for addr without creating it
func (r *Registry) Lookup(addr transport.Address) (*node.Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.actors[addr.Key()]
	return a, ok
}

func (r *Registry) forgetLocked(key string) {
	delete(r.actors, key)
	if r.metrics != nil {
		r.metrics.ActiveActors.Dec()
	}
}

// Len returns the number of hosted actors
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// withActor runs fn against the actor for addr, retrying once with a fresh
// actor if the first one stopped before fn could reach it
func (r *Registry) withActor(addr transport.Address, fn func(*node.Actor) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var a *node.Actor
		a, err = r.Get(addr)
		if err != nil {
			return err
		}
		if err = fn(a); !errors.Is(err, cluster.ErrActorStopped) {
			return err
		}
	}
	return err
}

// HandlePeer routes an inbound peer message to its actor. It implements
// transport.Handler, so a registry can serve local, HTTP and NNG peers alike.
func (r *Registry) HandlePeer(ctx context.Context, addr transport.Address, payload []byte) (int, []byte) {
	var (
		code  int
		reply []byte
	)
	err := r.withActor(addr, func(a *node.Actor) error {
		var err error
		code, reply, err = a.HandlePeer(ctx, payload)
		return err
	})

	switch {
	case err == nil:
		return code, reply
	case errors.Is(err, cluster.ErrInvalidClusterID), errors.Is(err, cluster.ErrUnknownNodeID):
		return http.StatusBadRequest, []byte(err.Error())
	default:
		// Stopped, closed or the caller gave up
		return http.StatusServiceUnavailable, []byte(err.Error())
	}
}

// ServeClient attaches conn to the actor for addr and blocks until the
// connection ends. conn is closed if no actor would take it.
func (r *Registry) ServeClient(ctx context.Context, addr transport.Address, conn clients.Conn) error {
	err := r.withActor(addr, func(a *node.Actor) error {
		return a.ServeClient(ctx, conn)
	})
	if err != nil {
		conn.Close()
	}
	return err
}

// State returns a snapshot of an existing actor
func (r *Registry) State(ctx context.Context, addr transport.Address) (node.Snapshot, error) {
	a, ok := r.Lookup(addr)
	if !ok {
		return node.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return a.State(ctx)
}

// Reap stops and removes every idle actor and returns how many went
func (r *Registry) Reap() int {
	r.mu.Lock()
	var idle []*node.Actor
	for key, a := range r.actors {
		if a.Idle(r.cfg.IdleTTL) {
			idle = append(idle, a)
			r.forgetLocked(key)
		}
	}
	r.mu.Unlock()

	for _, a := range idle {
		a.Stop()
		addr := a.Address()
		r.logger.Debug("actor reaped", logging.Cluster(addr.ClusterID), logging.Node(string(addr.NodeID)))
	}
	if n := len(idle); n > 0 {
		if r.metrics != nil {
			r.metrics.ActorsReaped.Add(float64(n))
		}
		r.logger.Info("reaped idle actors", logging.Count(n), logging.Int("remaining", r.Len()))
	}
	return len(idle)
}

// Run reaps idle actors every ReapInterval until ctx is done
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReapInterval)
	defer ticker.Stop()

	r.logger.Info("reaper started",
		logging.Duration("interval", r.cfg.ReapInterval), logging.Duration("idle_ttl", r.cfg.IdleTTL))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Reap()
		}
	}
}

// Close stops every actor. Later requests fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	actors := make([]*node.Actor, 0, len(r.actors))
	for key, a := range r.actors {
		actors = append(actors, a)
		r.forgetLocked(key)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *node.Actor) {
			defer wg.Done()
			a.Stop()
		}(a)
	}
	wg.Wait()
	r.logger.Info("registry closed", logging.Count(len(actors)))
}

// Stats summarises the registry for health checks
func (r *Registry) Stats() health.RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := health.RegistryStats{Actors: len(r.actors), Closed: r.closed}
	for _, a := range r.actors {
		s.Clients += a.Clients()
	}
	return s
}
