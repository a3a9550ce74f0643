package clients

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a duplex message channel to one observer
type Conn interface {
	// ReadMessage blocks for the next inbound message
	ReadMessage() ([]byte, error)
	// WriteMessage sends one outbound message
	WriteMessage(data []byte) error
	Close() error
}

// WebSocketConn adapts a gorilla websocket to Conn. Messages travel as
// binary frames; text frames are accepted inbound.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewWebSocketConn wraps ws. readLimit bounds inbound message size.
func NewWebSocketConn(ws *websocket.Conn, readLimit int64, writeTimeout time.Duration) *WebSocketConn {
	if readLimit > 0 {
		ws.SetReadLimit(readLimit)
	}
	return &WebSocketConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *WebSocketConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *WebSocketConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a normal closure frame and closes the socket
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether err ends a connection the client closed on purpose
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
