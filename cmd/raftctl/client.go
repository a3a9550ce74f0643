package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
)

// nodeURL builds the websocket URL of one node of a cluster
func nodeURL(base, clusterID string, id cluster.NodeID) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path += "/" + url.PathEscape(clusterID) + "/" + url.PathEscape(string(id))
	return u.String(), nil
}

// nodeConn is an open observer connection to one node
type nodeConn struct {
	id      cluster.NodeID
	ws      *websocket.Conn
	welcome rpc.ClientMessage
}

// dialNode connects to a node and waits for its Welcome
func dialNode(ctx context.Context, base, clusterID string, id cluster.NodeID) (*nodeConn, error) {
	target, err := nodeURL(base, clusterID, id)
	if err != nil {
		return nil, err
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	msg, err := readMessage(ws)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("welcome from %s: %w", id, err)
	}
	if msg.Action != rpc.ActionWelcome {
		ws.Close()
		return nil, fmt.Errorf("welcome from %s: unexpected %s", id, msg.Action)
	}
	ws.SetReadDeadline(time.Time{})

	return &nodeConn{id: id, ws: ws, welcome: msg}, nil
}

func readMessage(ws *websocket.Conn) (rpc.ClientMessage, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return rpc.ClientMessage{}, err
	}
	return rpc.DecodeClient(data)
}

// setStatus asks the node to change status
func (c *nodeConn) setStatus(clusterID string, status cluster.Status) error {
	data, err := rpc.Encode(rpc.SetStatus(clusterID, c.id, status))
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// close sends a normal closure and closes the socket
func (c *nodeConn) close() error {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}

func parseMembers(raw []string) (cluster.Members, error) {
	m := make(cluster.Members, 0, len(raw))
	for _, id := range raw {
		m = append(m, cluster.NodeID(strings.TrimSpace(id)))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
