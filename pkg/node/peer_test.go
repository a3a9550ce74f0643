package node

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
)

func TestNew_ValidatesConfig(t *testing.T) {
	tr := newFakeTransport(grantVotes)
	base := Config{
		ClusterID: testCluster,
		NodeID:    cluster.US1,
		Members:   threeNodes,
		Timing:    testTiming(),
		Transport: tr,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"missing cluster", func(c *Config) { c.ClusterID = "" }, ErrMissingClusterID},
		{"not a member", func(c *Config) { c.NodeID = cluster.OC1 }, cluster.ErrUnknownNodeID},
		{"too small", func(c *Config) { c.Members = cluster.Members{cluster.US1, cluster.EU1} }, cluster.ErrInvalidClusterSize},
		{"bad timing", func(c *Config) { c.Timing.ElectionFactor = 1 }, cluster.ErrElectionTimeoutTooSmall},
		{"no transport", func(c *Config) { c.Transport = nil }, ErrMissingTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandlePeer_InitialState(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))

	s := snapshot(t, a)
	assert.Equal(t, cluster.StatusFollower, s.Status)
	assert.Equal(t, uint64(0), s.Term)
	assert.Empty(t, s.VotedFor)
	assert.Equal(t, "none", s.Timer)
}

func TestHandlePeer_RequestVoteGrantsOncePerTerm(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))

	code, reply := deliver(t, a, rpc.RequestVote(1, cluster.EU1))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, rpc.Vote(1, true), reply)

	// Same term, other candidate
	code, reply = deliver(t, a, rpc.RequestVote(1, cluster.AP1))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, rpc.Vote(1, false), reply)

	s := snapshot(t, a)
	assert.Equal(t, cluster.EU1, s.VotedFor)
	assert.Equal(t, uint64(1), s.Term)

	// A higher term clears the vote
	_, reply = deliver(t, a, rpc.RequestVote(2, cluster.AP1))
	assert.Equal(t, rpc.Vote(2, true), reply)
	assert.Equal(t, cluster.AP1, snapshot(t, a).VotedFor)
}

func TestHandlePeer_StaleTermRejected(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))
	onLoop(t, a, func() { a.term = 3 })

	before := snapshot(t, a)
	code, _ := deliver(t, a, rpc.AppendEntries(1, cluster.EU1))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = deliver(t, a, rpc.RequestVote(2, cluster.AP1))
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, before, snapshot(t, a))
}

func TestHandlePeer_AppendEntriesAdoptsTerm(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))

	code, reply := deliver(t, a, rpc.AppendEntries(4, cluster.EU1))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, rpc.Appended(4), reply)

	s := snapshot(t, a)
	assert.Equal(t, uint64(4), s.Term)
	assert.Equal(t, cluster.StatusFollower, s.Status)
}

func TestHandlePeer_AppendEntriesStepsDownLeader(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))
	onLoop(t, a, a.startElection)
	waitFor(t, a, func(s Snapshot) bool { return s.Status == cluster.StatusLeader }, "leadership")

	code, _ := deliver(t, a, rpc.AppendEntries(1, cluster.EU1))
	require.Equal(t, http.StatusOK, code)

	s := snapshot(t, a)
	assert.Equal(t, cluster.StatusFollower, s.Status)
	assert.Equal(t, uint64(1), s.Term)
	assert.NotEqual(t, "heartbeat", s.Timer)
}

func TestHandlePeer_HigherTermVoteStepsDownLeader(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))
	onLoop(t, a, a.startElection)
	waitFor(t, a, func(s Snapshot) bool { return s.Status == cluster.StatusLeader }, "leadership")

	_, reply := deliver(t, a, rpc.RequestVote(2, cluster.AP1))
	assert.Equal(t, rpc.Vote(2, true), reply)
	assert.Equal(t, cluster.StatusFollower, snapshot(t, a).Status)
}

func TestHandlePeer_SameTermVoteKeepsLeader(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))
	onLoop(t, a, a.startElection)
	waitFor(t, a, func(s Snapshot) bool { return s.Status == cluster.StatusLeader }, "leadership")

	_, reply := deliver(t, a, rpc.RequestVote(1, cluster.AP1))
	assert.Equal(t, rpc.Vote(1, false), reply)
	assert.Equal(t, cluster.StatusLeader, snapshot(t, a).Status)
}

func TestHandlePeer_OfflineRejectsEverything(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))
	onLoop(t, a, func() {
		a.term = 2
		a.setStatus(cluster.StatusOffline, nil)
	})
	before := snapshot(t, a)

	for _, msg := range []rpc.PeerMessage{
		rpc.AppendEntries(5, cluster.EU1),
		rpc.RequestVote(5, cluster.AP1),
		rpc.AppendEntries(1, cluster.EU1),
	} {
		code, body, err := a.HandlePeer(context.Background(), rpc.MustEncode(msg))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, code, "%s", msg.Action)
		assert.Equal(t, cluster.ErrUnavailable.Error(), string(body))
	}

	assert.Equal(t, before, snapshot(t, a), "offline node must not change state")
}

func TestHandlePeer_BadRequests(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))

	tests := []struct {
		name string
		msg  rpc.PeerMessage
	}{
		{"unknown action", rpc.PeerMessage{Action: "InstallSnapshot", Term: 9}},
		{"reply action", rpc.Vote(9, true)},
		{"leader not a member", rpc.AppendEntries(9, cluster.OC1)},
		{"candidate is self", rpc.RequestVote(9, cluster.US1)},
		{"missing candidate", rpc.PeerMessage{Action: rpc.ActionRequestVote, Term: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := deliver(t, a, tt.msg)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	assert.Equal(t, uint64(0), snapshot(t, a).Term, "bad requests must not change the term")
}

func TestHandlePeer_Malformed(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))

	code, body, err := a.HandlePeer(t.Context(), []byte{0xc1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, body)
}

func TestHandlePeer_StoppedActor(t *testing.T) {
	a := newTestActor(t, threeNodes, newFakeTransport(grantVotes))
	a.Stop()

	_, _, err := a.HandlePeer(t.Context(), rpc.MustEncode(rpc.RequestVote(1, cluster.EU1)))
	assert.ErrorIs(t, err, cluster.ErrActorStopped)
}
