package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-raft/pkg/api/middleware"
	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/identity"
	"github.com/dd0wney/cluso-raft/pkg/metrics"
	"github.com/dd0wney/cluso-raft/pkg/node"
	"github.com/dd0wney/cluso-raft/pkg/registry"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
	"github.com/dd0wney/cluso-raft/pkg/transport"
)

const (
	nodeSecret   = "node-secret-node-secret-node-secret"
	cookieSecret = "cookie-secret-cookie-secret-cookie"
)

var members = cluster.Members{cluster.US1, cluster.EU1, cluster.AP1}

type testEnv struct {
	reg     *registry.Registry
	issuer  *identity.Issuer
	metrics *metrics.Registry
	server  *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	m := metrics.NewRegistry()
	reg, err := registry.New(registry.Config{
		Members: members,
		Timing: cluster.Timing{
			HeartbeatInterval: 10 * time.Millisecond,
			ElectionFactor:    4,
			RPCTimeout:        200 * time.Millisecond,
		},
		Metrics: m,
	})
	require.NoError(t, err)

	issuer, err := identity.NewIssuer(cookieSecret, identity.Options{})
	require.NoError(t, err)

	cfg := Config{
		Registry:   reg,
		Issuer:     issuer,
		NodeSecret: nodeSecret,
		Metrics:    m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	// Runs first: hijacked sockets are not closed by the test server
	t.Cleanup(reg.Close)

	return &testEnv{reg: reg, issuer: issuer, metrics: m, server: ts}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, path string, header http.Header) (*websocket.Conn, *http.Response) {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL(path), header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws, resp
}

func (e *testEnv) peer(t *testing.T, path, secret string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, e.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", secret)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) status(clusterID string, id cluster.NodeID) cluster.Status {
	s, err := e.reg.State(context.Background(), transport.Address{ClusterID: clusterID, NodeID: id})
	if err != nil {
		return ""
	}
	return s.Status
}

func readClient(t *testing.T, ws *websocket.Conn) rpc.ClientMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := rpc.DecodeClient(data)
	require.NoError(t, err)
	return msg
}

func clusterCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == identity.CookieName {
			return c
		}
	}
	t.Fatal("no cluster cookie in response")
	return nil
}

func TestNewServer_Requires(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)

	reg, err := registry.New(registry.Config{Members: members, Timing: cluster.DefaultTiming()})
	require.NoError(t, err)
	defer reg.Close()

	_, err = NewServer(Config{Registry: reg})
	assert.Error(t, err, "issuer is required")
}

func TestClientEntry_AssignsCluster(t *testing.T) {
	env := newTestEnv(t, nil)

	ws, resp := env.dial(t, "/us1", nil)
	cookie := clusterCookie(t, resp)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	clusterID, err := env.issuer.Verify(cookie.Value)
	require.NoError(t, err)

	welcome := readClient(t, ws)
	assert.Equal(t, rpc.ActionWelcome, welcome.Action)
	assert.Equal(t, clusterID, welcome.ClusterID)
	assert.Equal(t, cluster.US1, welcome.NodeID)
}

func TestClientEntry_ReusesCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	_, resp := env.dial(t, "/us1", nil)
	cookie := clusterCookie(t, resp)

	header := http.Header{}
	header.Add("Cookie", cookie.Name+"="+cookie.Value)
	ws, _ := env.dial(t, "/eu1", header)

	first, err := env.issuer.Verify(cookie.Value)
	require.NoError(t, err)
	welcome := readClient(t, ws)
	assert.Equal(t, first, welcome.ClusterID)
	assert.Equal(t, cluster.EU1, welcome.NodeID)
}

func TestClientEntry_ReplacesTamperedCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	header := http.Header{}
	header.Add("Cookie", identity.CookieName+"=not-a-token")
	ws, resp := env.dial(t, "/ap1", header)

	clusterID, err := env.issuer.Verify(clusterCookie(t, resp).Value)
	require.NoError(t, err)
	assert.Equal(t, clusterID, readClient(t, ws).ClusterID)
}

func TestClientEntry_Rejects(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/mars1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A member, but not a websocket handshake
	resp, err = http.Get(env.server.URL + "/us1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, env.reg.Len())
}

func TestClusterClient(t *testing.T) {
	env := newTestEnv(t, nil)

	ws, resp := env.dial(t, "/team-7/eu1", nil)
	assert.Empty(t, resp.Cookies())

	welcome := readClient(t, ws)
	assert.Equal(t, "team-7", welcome.ClusterID)
	assert.Equal(t, cluster.EU1, welcome.NodeID)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/team-7/mars1"), nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPeerRPC(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.peer(t, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(3, cluster.US1)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/msgpack", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply, err := rpc.DecodePeer(body)
	require.NoError(t, err)
	assert.Equal(t, rpc.Appended(3), reply)

	// Stale heartbeat
	resp = env.peer(t, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(1, cluster.US1)))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Vote in a newer term
	resp = env.peer(t, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.RequestVote(4, cluster.AP1)))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply, err = rpc.DecodePeer(body)
	require.NoError(t, err)
	assert.Equal(t, rpc.Vote(4, true), reply)
}

func TestPeerRPC_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	heartbeat := rpc.MustEncode(rpc.AppendEntries(1, cluster.US1))

	tests := []struct {
		name   string
		method string
		path   string
		secret string
		body   []byte
		want   int
	}{
		// without the secret a PUT is a client request, and clients only GET
		{"wrong secret", http.MethodPut, "/c1/eu1", "guess", heartbeat, http.StatusMethodNotAllowed},
		{"secret prefix", http.MethodPut, "/c1/eu1", nodeSecret[:10], heartbeat, http.StatusMethodNotAllowed},
		{"not PUT", http.MethodPost, "/c1/eu1", nodeSecret, heartbeat, http.StatusMethodNotAllowed},
		{"unknown node", http.MethodPut, "/c1/mars1", nodeSecret, heartbeat, http.StatusBadRequest},
		{"bad cluster id", http.MethodPut, "/-c1/eu1", nodeSecret, heartbeat, http.StatusBadRequest},
		{"malformed payload", http.MethodPut, "/c1/eu1", nodeSecret, []byte{0xc1}, http.StatusBadRequest},
		{"self as sender", http.MethodPut, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(1, cluster.EU1)), http.StatusBadRequest},
		{"too large", http.MethodPut, "/c1/eu1", nodeSecret, make([]byte, transport.MaxPeerBody+1), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.server.URL+tt.path, bytes.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Authorization", tt.secret)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestPeerRPC_NoSecretConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.NodeSecret = "" })

	resp := env.peer(t, "/c1/eu1", "anything", rpc.MustEncode(rpc.AppendEntries(1, cluster.US1)))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Zero(t, env.reg.Len())

	ws, _ := env.dial(t, "/c1/eu1", http.Header{"Authorization": {"anything"}})
	welcome := readClient(t, ws)
	assert.Equal(t, rpc.ActionWelcome, welcome.Action)
	assert.Equal(t, cluster.EU1, welcome.NodeID)
}

func TestPeerRPC_WrongSecretConnectsAsClient(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, secret := range []string{"guess", nodeSecret[:10]} {
		ws, resp := env.dial(t, "/c1/eu1", http.Header{"Authorization": {secret}})
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

		welcome := readClient(t, ws)
		assert.Equal(t, rpc.ActionWelcome, welcome.Action)
		assert.Equal(t, "c1", welcome.ClusterID)
		assert.Equal(t, cluster.EU1, welcome.NodeID)
	}

	s, err := env.reg.State(context.Background(), transport.Address{ClusterID: "c1", NodeID: cluster.EU1})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Clients)
}

func TestPeerRPC_OverHTTPTransport(t *testing.T) {
	env := newTestEnv(t, nil)

	tr := transport.NewHTTPTransport(nil, map[cluster.NodeID]string{
		cluster.US1: env.server.URL,
		cluster.EU1: env.server.URL,
		cluster.AP1: env.server.URL,
	}, nodeSecret)

	reply, err := tr.Send(context.Background(), transport.Address{ClusterID: "c1", NodeID: cluster.AP1}, rpc.MustEncode(rpc.RequestVote(2, cluster.US1)))
	require.NoError(t, err)
	msg, err := rpc.DecodePeer(reply)
	require.NoError(t, err)
	assert.Equal(t, rpc.Vote(2, true), msg)

	_, err = tr.Send(context.Background(), transport.Address{ClusterID: "c1", NodeID: cluster.AP1}, rpc.MustEncode(rpc.AppendEntries(1, cluster.US1)))
	assert.Equal(t, http.StatusBadRequest, transport.StatusCode(err))
}

func TestElectionOverWebsockets(t *testing.T) {
	env := newTestEnv(t, nil)

	first, resp := env.dial(t, "/us1", nil)
	cookie := clusterCookie(t, resp)
	clusterID := readClient(t, first).ClusterID

	header := http.Header{}
	header.Add("Cookie", cookie.Name+"="+cookie.Value)
	sockets := map[cluster.NodeID]*websocket.Conn{cluster.US1: first}
	for _, id := range []cluster.NodeID{cluster.EU1, cluster.AP1} {
		ws, _ := env.dial(t, "/"+string(id), header)
		assert.Equal(t, clusterID, readClient(t, ws).ClusterID)
		sockets[id] = ws
	}

	leaderOf := func(skip cluster.NodeID) cluster.NodeID {
		for _, id := range members {
			if id != skip && env.status(clusterID, id) == cluster.StatusLeader {
				return id
			}
		}
		return ""
	}

	var leader cluster.NodeID
	require.Eventually(t, func() bool {
		leader = leaderOf("")
		return leader != ""
	}, 5*time.Second, 10*time.Millisecond)

	// The leader's observer takes it offline; the rest elect a new leader
	offline := rpc.MustEncode(rpc.SetStatus(clusterID, leader, cluster.StatusOffline))
	require.NoError(t, sockets[leader].WriteMessage(websocket.BinaryMessage, offline))

	require.Eventually(t, func() bool {
		return env.status(clusterID, leader) == cluster.StatusOffline && leaderOf(leader) != ""
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDebug(t *testing.T) {
	env := newTestEnv(t, nil)

	get := func(path, secret string) (*http.Response, node.Snapshot) {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
		require.NoError(t, err)
		if secret != "" {
			req.Header.Set("Authorization", secret)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var s node.Snapshot
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
		}
		return resp, s
	}

	resp, _ := get("/debug/c1/eu1", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = get("/debug/c1/eu1", nodeSecret)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get("/debug/c1/mars1", nodeSecret)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.peer(t, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(6, cluster.US1)))

	resp, snapshot := get("/debug/c1/eu1", nodeSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c1", snapshot.ClusterID)
	assert.Equal(t, cluster.EU1, snapshot.NodeID)
	assert.Equal(t, uint64(6), snapshot.Term)
	assert.Equal(t, cluster.StatusFollower, snapshot.Status)
	assert.Zero(t, snapshot.Clients)
}

func TestDebug_Development(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Development = true })

	env.peer(t, "/c1/ap1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(1, cluster.US1)))

	resp, err := http.Get(env.server.URL + "/debug/c1/ap1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		resp, err := http.Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	env.peer(t, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(1, cluster.US1)))

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `raft_http_requests_total{method="PUT",path="/{clusterId}/{nodeId}",status="200"} 1`)
	assert.NotContains(t, string(body), `path="/c1/eu1"`)
	assert.Contains(t, string(body), "raft_peer_message_bytes_count 1")
}

func TestClientSessionMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	ws, _ := env.dial(t, "/c1/eu1", nil)
	readClient(t, ws)
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	closed := env.metrics.ClientSessionsTotal.WithLabelValues(metrics.SessionClosed)
	assert.Eventually(t, func() bool { return testutil.ToFloat64(closed) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.server.URL + "/a/b/c/d")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusNotFound, body.Code)
}

func TestClientConnectRateLimit(t *testing.T) {
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         1,
		ClientExpiration:  time.Minute,
	}, nil)
	defer limiter.Stop()
	env := newTestEnv(t, func(c *Config) { c.Limiter = limiter })

	env.dial(t, "/us1", nil)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("/eu1"), nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Peer RPCs are not limited
	resp = env.peer(t, "/c1/eu1", nodeSecret, rpc.MustEncode(rpc.AppendEntries(1, cluster.US1)))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name        string
		development bool
		allowed     []string
		origin      string
		host        string
		want        bool
	}{
		{"no origin", false, nil, "", "raft.example.com", true},
		{"same origin", false, nil, "https://raft.example.com", "raft.example.com", true},
		{"foreign origin", false, nil, "https://evil.example.com", "raft.example.com", false},
		{"allowed origin", false, []string{"https://app.example.com/"}, "https://APP.example.com", "raft.example.com", true},
		{"development", true, nil, "http://localhost:3000", "raft.example.com", true},
		{"garbage origin", false, nil, "://", "raft.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewServer(Config{
				Registry:       env.reg,
				Issuer:         env.issuer,
				Development:    tt.development,
				AllowedOrigins: tt.allowed,
			})
			require.NoError(t, err)

			r := httptest.NewRequest(http.MethodGet, "/us1", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, s.checkOrigin(r))
		})
	}
}
