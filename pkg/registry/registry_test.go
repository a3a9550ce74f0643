package registry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-raft/pkg/clients/clientstest"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/node"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

var members = cluster.Members{cluster.US1, cluster.EU1, cluster.AP1}

func testConfig() Config {
	return Config{
		Members: members,
		Timing: cluster.Timing{
			HeartbeatInterval: 10 * time.Millisecond,
			ElectionFactor:    4,
			RPCTimeout:        200 * time.Millisecond,
		},
	}
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func addr(clusterID string, id cluster.NodeID) transport.Address {
	return transport.Address{ClusterID: clusterID, NodeID: id}
}

// connect attaches an observer to every member of clusterID
func connect(t *testing.T, r *Registry, clusterID string) map[cluster.NodeID]*clientstest.Conn {
	t.Helper()
	conns := make(map[cluster.NodeID]*clientstest.Conn)
	for _, id := range members {
		conn := clientstest.NewConn()
		conns[id] = conn
		done := make(chan struct{})
		go func(id cluster.NodeID) {
			defer close(done)
			r.ServeClient(context.Background(), addr(clusterID, id), conn)
		}(id)
		t.Cleanup(func() {
			conn.Close()
			<-done
		})
	}
	return conns
}

func states(t *testing.T, r *Registry, clusterID string) map[cluster.NodeID]node.Snapshot {
	t.Helper()
	out := make(map[cluster.NodeID]node.Snapshot)
	for _, id := range members {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s, err := r.State(ctx, addr(clusterID, id))
		cancel()
		require.NoError(t, err)
		out[id] = s
	}
	return out
}

// leaders returns every node that currently believes it leads
func leaders(snaps map[cluster.NodeID]node.Snapshot) []node.Snapshot {
	var out []node.Snapshot
	for _, s := range snaps {
		if s.Status == cluster.StatusLeader {
			out = append(out, s)
		}
	}
	return out
}

// waitForLeader polls until exactly one leader exists and every other online
// node follows it in the same term
func waitForLeader(t *testing.T, r *Registry, clusterID string, skip ...cluster.NodeID) node.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snaps := states(t, r, clusterID)
		for _, id := range skip {
			delete(snaps, id)
		}
		if l := leaders(snaps); len(l) == 1 {
			stable := true
			for _, s := range snaps {
				if s.Term != l[0].Term || (s.NodeID != l[0].NodeID && s.Status != cluster.StatusFollower) {
					stable = false
				}
			}
			if stable {
				return l[0]
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no stable leader in %s: %+v", clusterID, snaps)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForStatus(t *testing.T, r *Registry, a transport.Address, status cluster.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s, err := r.State(ctx, a)
		cancel()
		require.NoError(t, err)
		if s.Status == status {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never became %s: %+v", a, status, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validates(t *testing.T) {
	cfg := testConfig()
	cfg.Members = cluster.Members{cluster.US1}
	_, err := New(cfg)
	assert.ErrorIs(t, err, cluster.ErrInvalidClusterSize)

	cfg = testConfig()
	cfg.Timing.HeartbeatInterval = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, cluster.ErrInvalidHeartbeat)
}

func TestGet_LazyAndKeyed(t *testing.T) {
	reg := metrics.NewRegistry()
	cfg := testConfig()
	cfg.Metrics = reg
	r := newTestRegistry(t, cfg)

	_, ok := r.Lookup(addr("a", cluster.US1))
	assert.False(t, ok)

	a1, err := r.Get(addr("a", cluster.US1))
	require.NoError(t, err)
	a2, err := r.Get(addr("a", cluster.US1))
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	b, err := r.Get(addr("b", cluster.US1))
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.ActiveActors))

	_, err = r.Get(addr("a", cluster.OC1))
	assert.ErrorIs(t, err, cluster.ErrUnknownNodeID)
	_, err = r.Get(addr("bad id", cluster.US1))
	assert.ErrorIs(t, err, cluster.ErrInvalidClusterID)
}

func TestGet_ReplacesStoppedActor(t *testing.T) {
	r := newTestRegistry(t, testConfig())

	a1, err := r.Get(addr("a", cluster.US1))
	require.NoError(t, err)
	a1.Stop()

	a2, err := r.Get(addr("a", cluster.US1))
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)
	assert.Equal(t, 1, r.Len())
}

func TestHandlePeer(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	ctx := context.Background()

	code, body := r.HandlePeer(ctx, addr("a", cluster.US1), rpc.MustEncode(rpc.RequestVote(1, cluster.EU1)))
	require.Equal(t, http.StatusOK, code)
	reply, err := rpc.DecodePeer(body)
	require.NoError(t, err)
	assert.Equal(t, rpc.Vote(1, true), reply)

	code, _ = r.HandlePeer(ctx, addr("a", cluster.OC1), rpc.MustEncode(rpc.RequestVote(1, cluster.EU1)))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = r.HandlePeer(ctx, addr("a", cluster.US1), []byte("junk"))
	assert.Equal(t, http.StatusBadRequest, code)

	r.Close()
	code, _ = r.HandlePeer(ctx, addr("a", cluster.US1), rpc.MustEncode(rpc.RequestVote(2, cluster.EU1)))
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestCluster_ElectsOneLeader(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	connect(t, r, "alpha")

	leader := waitForLeader(t, r, "alpha")
	assert.Greater(t, leader.Term, uint64(0))

	// Heartbeats keep the same leader in place
	time.Sleep(200 * time.Millisecond)
	again := waitForLeader(t, r, "alpha")
	assert.Equal(t, leader.NodeID, again.NodeID)
	assert.Equal(t, leader.Term, again.Term)
}

func TestCluster_ClustersAreIndependent(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	connect(t, r, "alpha")
	connect(t, r, "beta")

	waitForLeader(t, r, "alpha")
	waitForLeader(t, r, "beta")
	assert.Equal(t, 6, r.Len())
}

func TestCluster_FailoverWhenLeaderGoesOffline(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	conns := connect(t, r, "alpha")

	leader := waitForLeader(t, r, "alpha")
	conns[leader.NodeID].Inject(rpc.MustEncode(rpc.SetStatus("alpha", leader.NodeID, cluster.StatusOffline)))

	next := waitForLeader(t, r, "alpha", leader.NodeID)
	assert.NotEqual(t, leader.NodeID, next.NodeID)
	assert.Greater(t, next.Term, leader.Term)

	// The old leader stays out of it and keeps its old term
	snaps := states(t, r, "alpha")
	assert.Equal(t, cluster.StatusOffline, snaps[leader.NodeID].Status)
	assert.Equal(t, leader.Term, snaps[leader.NodeID].Term)

	// Back online it rejoins as a follower of the new leader
	conns[leader.NodeID].Inject(rpc.MustEncode(rpc.SetStatus("alpha", leader.NodeID, cluster.StatusFollower)))
	final := waitForLeader(t, r, "alpha")
	assert.GreaterOrEqual(t, final.Term, next.Term)
}

func TestCluster_NoQuorumNoLeader(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	conns := connect(t, r, "alpha")
	leader := waitForLeader(t, r, "alpha")

	var followers []cluster.NodeID
	for _, id := range members {
		if id != leader.NodeID {
			followers = append(followers, id)
		}
	}
	lone := followers[0]

	// Silence the other follower while the leader still holds everyone back
	for _, id := range []cluster.NodeID{followers[1], leader.NodeID} {
		conns[id].Inject(rpc.MustEncode(rpc.SetStatus("alpha", id, cluster.StatusOffline)))
		waitForStatus(t, r, addr("alpha", id), cluster.StatusOffline)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		snaps := states(t, r, "alpha")
		if snaps[lone].Term > leader.Term+2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("lone node stopped campaigning: %+v", snaps[lone])
		}
		time.Sleep(10 * time.Millisecond)
	}

	// It keeps calling elections but can never gather a quorum
	for i := 0; i < 20; i++ {
		s := states(t, r, "alpha")[lone]
		require.NotEqual(t, cluster.StatusLeader, s.Status)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReap(t *testing.T) {
	reg := metrics.NewRegistry()
	cfg := testConfig()
	cfg.Metrics = reg
	cfg.IdleTTL = 30 * time.Millisecond
	r := newTestRegistry(t, cfg)

	idle, err := r.Get(addr("idle", cluster.US1))
	require.NoError(t, err)

	connect(t, r, "busy")
	waitForLeader(t, r, "busy")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, r.Reap())
	select {
	case <-idle.Done():
	default:
		t.Fatal("reaped actor still running")
	}
	_, ok := r.Lookup(addr("idle", cluster.US1))
	assert.False(t, ok)
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ActorsReaped))
	assert.Equal(t, 3.0, testutil.ToFloat64(reg.ActiveActors))
}

func TestRun_ReapsAbandonedCluster(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTTL = 50 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	r := newTestRegistry(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	conns := make([]*clientstest.Conn, 0, len(members))
	served := make(chan struct{}, len(members))
	for _, id := range members {
		conn := clientstest.NewConn()
		conns = append(conns, conn)
		go func(id cluster.NodeID) {
			r.ServeClient(context.Background(), addr("gone", id), conn)
			served <- struct{}{}
		}(id)
	}
	waitForLeader(t, r, "gone")

	// Everybody leaves; the cluster goes quiet and is reaped
	for _, conn := range conns {
		conn.Close()
	}
	for range members {
		<-served
	}

	deadline := time.Now().Add(3 * time.Second)
	for r.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d actors never reaped", r.Len())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}

func TestServeClient_ReconnectAfterReap(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTTL = 10 * time.Millisecond
	r := newTestRegistry(t, cfg)

	old, err := r.Get(addr("a", cluster.US1))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, r.Reap())

	conn := clientstest.NewConn()
	go r.ServeClient(context.Background(), addr("a", cluster.US1), conn)
	defer conn.Close()

	data, ok := conn.Next(time.Second)
	require.True(t, ok)
	msg, err := rpc.DecodeClient(data)
	require.NoError(t, err)
	assert.Equal(t, rpc.Welcome("a", cluster.US1, cluster.StatusFollower), msg)

	fresh, ok := r.Lookup(addr("a", cluster.US1))
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	assert.Zero(t, r.Stats())

	connect(t, r, "alpha")
	waitForLeader(t, r, "alpha")

	s := r.Stats()
	assert.Equal(t, 3, s.Actors)
	assert.Equal(t, 3, s.Clients)
	assert.False(t, s.Closed)

	r.Close()
	s = r.Stats()
	assert.True(t, s.Closed)
	assert.Zero(t, s.Actors)
}

func TestServeClient_ClosedRegistryClosesConn(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	r.Close()

	conn := clientstest.NewConn()
	err := r.ServeClient(context.Background(), addr("a", cluster.US1), conn)
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, conn.Closed())
}
