package node

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

const testCluster = "c-test"

var threeNodes = cluster.Members{cluster.US1, cluster.EU1, cluster.AP1}

func testTiming() cluster.Timing {
	return cluster.Timing{
		HeartbeatInterval: 10 * time.Millisecond,
		ElectionFactor:    4,
		RPCTimeout:        200 * time.Millisecond,
	}
}

// answerFunc decides a peer's reply to one outbound call
type answerFunc func(ctx context.Context, to transport.Address, msg rpc.PeerMessage) (int, rpc.PeerMessage)

// fakeTransport answers outbound calls in memory and records them
type fakeTransport struct {
	mu     sync.Mutex
	answer answerFunc
	sent   []sentMessage
}

type sentMessage struct {
	To  transport.Address
	Msg rpc.PeerMessage
}

func newFakeTransport(answer answerFunc) *fakeTransport {
	return &fakeTransport{answer: answer}
}

func (f *fakeTransport) Send(ctx context.Context, to transport.Address, payload []byte) ([]byte, error) {
	msg, err := rpc.DecodePeer(payload)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{To: to, Msg: msg})
	answer := f.answer
	f.mu.Unlock()

	code, reply := answer(ctx, to, msg)
	if code != http.StatusOK {
		return nil, &transport.StatusError{Code: code}
	}
	return rpc.MustEncode(reply), nil
}

func (f *fakeTransport) setAnswer(answer answerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
}

func (f *fakeTransport) count(action rpc.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.sent {
		if s.Msg.Action == action {
			n++
		}
	}
	return n
}

// grantVotes grants every vote and acknowledges every heartbeat
func grantVotes(ctx context.Context, to transport.Address, msg rpc.PeerMessage) (int, rpc.PeerMessage) {
	if msg.Action == rpc.ActionRequestVote {
		return http.StatusOK, rpc.Vote(msg.Term, true)
	}
	return http.StatusOK, rpc.Appended(msg.Term)
}

// refuseVotes refuses every vote
func refuseVotes(ctx context.Context, to transport.Address, msg rpc.PeerMessage) (int, rpc.PeerMessage) {
	if msg.Action == rpc.ActionRequestVote {
		return http.StatusOK, rpc.Vote(msg.Term, false)
	}
	return http.StatusOK, rpc.Appended(msg.Term)
}

func newTestActor(t *testing.T, members cluster.Members, tr transport.Transport) *Actor {
	t.Helper()
	return newTestActorWithMetrics(t, members, tr, nil)
}

func newTestActorWithMetrics(t *testing.T, members cluster.Members, tr transport.Transport, reg *metrics.Registry) *Actor {
	t.Helper()
	a, err := New(Config{
		ClusterID: testCluster,
		NodeID:    members[0],
		Members:   members,
		Timing:    testTiming(),
		Transport: tr,
		Metrics:   reg,
	})
	require.NoError(t, err)
	t.Cleanup(a.Stop)
	return a
}

// onLoop runs fn on the actor's goroutine
func onLoop(t *testing.T, a *Actor, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.call(ctx, fn))
}

func snapshot(t *testing.T, a *Actor) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := a.State(ctx)
	require.NoError(t, err)
	return s
}

// deliver sends msg to a as a peer and decodes the reply
func deliver(t *testing.T, a *Actor, msg rpc.PeerMessage) (int, rpc.PeerMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	code, body, err := a.HandlePeer(ctx, rpc.MustEncode(msg))
	require.NoError(t, err)
	if code != http.StatusOK {
		return code, rpc.PeerMessage{}
	}
	reply, err := rpc.DecodePeer(body)
	require.NoError(t, err)
	return code, reply
}

func waitFor(t *testing.T, a *Actor, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		s := snapshot(t, a)
		if cond(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last state %+v", msg, s)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func electionSettled(s Snapshot) bool {
	return !s.Electing && s.Status != cluster.StatusCandidate
}
