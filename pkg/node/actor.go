// Package node implements the election state machine of one node of one
// cluster. Each Actor runs a single goroutine that drains a mailbox of
// closures; every peer RPC, client message, timer firing and election result
// is one mailbox item, so actor state is only ever touched by that goroutine.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/clients"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

// DefaultMailbox is the default mailbox capacity
const DefaultMailbox = 256

var (
	ErrMissingClusterID = errors.New("cluster ID is required")
	ErrMissingTransport = errors.New("transport is required")
)

// Config configures one actor
type Config struct {
	ClusterID string
	NodeID    cluster.NodeID
	Members   cluster.Members
	Timing    cluster.Timing
	Transport transport.Transport
	Logger    logging.Logger
	Metrics   *metrics.Registry // optional
	Outbox    int               // per-client queue (default: clients.DefaultOutbox)
	Mailbox   int               // (default: DefaultMailbox)
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ClusterID == "" {
		return ErrMissingClusterID
	}
	if err := c.Members.Validate(); err != nil {
		return err
	}
	if !c.Members.Contains(c.NodeID) {
		return fmt.Errorf("%w: %q is not a member", cluster.ErrUnknownNodeID, c.NodeID)
	}
	if err := c.Timing.Validate(); err != nil {
		return err
	}
	if c.Transport == nil {
		return ErrMissingTransport
	}
	return nil
}

// Actor is one node of one cluster
type Actor struct {
	cfg       Config
	self      transport.Address
	peers     []transport.Address
	transport transport.Transport
	logger    logging.Logger
	metrics   *metrics.Registry

	mailbox   chan func()
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	runCtx    context.Context
	runCancel context.CancelFunc

	// Owned by the loop goroutine
	status       cluster.Status
	term         uint64
	votedFor     cluster.NodeID
	timer        scheduledTimer
	clients      *clients.Manager
	election     *electionAttempt
	leaderCtx    context.Context
	leaderCancel context.CancelFunc

	// Read by the registry without entering the loop
	lastActive  atomic.Int64
	clientCount atomic.Int32
}

// New validates cfg and starts the actor as a follower at term 0
func New(cfg Config) (*Actor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Mailbox <= 0 {
		cfg.Mailbox = DefaultMailbox
	}

	logger := cfg.Logger.With(logging.Cluster(cfg.ClusterID), logging.Node(string(cfg.NodeID)))

	peers := make([]transport.Address, 0, cfg.Members.Size()-1)
	for _, id := range cfg.Members.Peers(cfg.NodeID) {
		peers = append(peers, transport.Address{ClusterID: cfg.ClusterID, NodeID: id})
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	a := &Actor{
		cfg:       cfg,
		self:      transport.Address{ClusterID: cfg.ClusterID, NodeID: cfg.NodeID},
		peers:     peers,
		transport: transport.WithDeadline(cfg.Transport, cfg.Timing.RPCTimeout),
		logger:    logger,
		metrics:   cfg.Metrics,
		mailbox:   make(chan func(), cfg.Mailbox),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		runCtx:    runCtx,
		runCancel: runCancel,
		status:    cluster.StatusFollower,
		clients:   clients.NewManager(cfg.Outbox, logger),
	}
	a.touch()

	go a.run()
	return a, nil
}

// Address returns the actor's own address
func (a *Actor) Address() transport.Address {
	return a.self
}

func (a *Actor) run() {
	defer close(a.done)

	for {
		select {
		case fn := <-a.mailbox:
			a.touch()
			fn()
		case <-a.stop:
			a.shutdown()
			return
		}
	}
}

func (a *Actor) shutdown() {
	a.cancelTimer()
	a.cancelElection()
	a.stopHeartbeats()
	a.runCancel()

	if n := a.clients.Len(); n > 0 && a.metrics != nil {
		a.metrics.ConnectedClients.Sub(float64(n))
	}
	a.clients.CloseAll()
	a.clientCount.Store(0)
	a.logger.Debug("actor stopped", logging.Status(a.status.String()), logging.Term(a.term))
}

// post queues fn for the loop. It reports false once the actor is stopping.
func (a *Actor) post(fn func()) bool {
	select {
	case <-a.stop:
		return false
	default:
	}

	select {
	case a.mailbox <- fn:
		return true
	case <-a.stop:
		return false
	}
}

// call runs fn on the loop and waits for it to finish
func (a *Actor) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !a.post(func() {
		fn()
		close(ran)
	}) {
		return cluster.ErrActorStopped
	}

	select {
	case <-ran:
		return nil
	case <-a.done:
		select {
		case <-ran:
			return nil
		default:
			return cluster.ErrActorStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the actor down: timers and in-flight elections are cancelled
// and every client is disconnected. It blocks until the loop has exited.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

// Done is closed once the actor has stopped
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) touch() {
	a.lastActive.Store(time.Now().UnixNano())
}

// Touch marks the actor as active, deferring idle reaping
func (a *Actor) Touch() {
	a.touch()
}

// Idle reports whether the actor has no clients and has processed nothing
// for at least ttl
func (a *Actor) Idle(ttl time.Duration) bool {
	if a.clientCount.Load() > 0 {
		return false
	}
	return time.Since(time.Unix(0, a.lastActive.Load())) >= ttl
}

// Clients returns the number of connected clients
func (a *Actor) Clients() int {
	return int(a.clientCount.Load())
}
