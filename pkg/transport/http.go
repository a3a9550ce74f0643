package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
)

// MaxPeerBody bounds how much of a peer reply or request is read
const MaxPeerBody = 64 * 1024

// HTTPTransport delivers messages with PUT {peer}/{clusterId}/{nodeId},
// authenticated by the shared node secret in the Authorization header
type HTTPTransport struct {
	client *http.Client
	peers  map[cluster.NodeID]string
	secret string
}

// NewHTTPTransport creates a transport for the given peer base URLs
func NewHTTPTransport(client *http.Client, peers map[cluster.NodeID]string, secret string) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	p := make(map[cluster.NodeID]string, len(peers))
	for id, base := range peers {
		p[id] = strings.TrimRight(base, "/")
	}
	return &HTTPTransport{client: client, peers: p, secret: secret}
}

func (t *HTTPTransport) Send(ctx context.Context, to Address, payload []byte) ([]byte, error) {
	base, ok := t.peers[to.NodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, to.NodeID)
	}

	target := fmt.Sprintf("%s/%s/%s", base, url.PathEscape(to.ClusterID), url.PathEscape(string(to.NodeID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", t.secret)
	req.Header.Set("Content-Type", "application/msgpack")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPeerBody))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return checkStatus(resp.StatusCode, body)
}
