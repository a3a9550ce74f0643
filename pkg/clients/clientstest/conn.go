// Package clientstest provides an in-memory clients.Conn for tests
package clientstest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by a closed Conn
var ErrClosed = errors.New("clientstest: connection closed")

// Conn is an in-memory client connection. The server side uses ReadMessage
// and WriteMessage; the test drives it with Inject and Next.
type Conn struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
	once     sync.Once

	mu        sync.Mutex
	writeErr  error
	writeHold chan struct{}
	closeHold chan struct{}

	closeCalls atomic.Int32
}

// NewConn creates an open connection
func NewConn() *Conn {
	return &Conn{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
}

func (c *Conn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.closed:
		return nil, ErrClosed
	}
}

func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	err, hold := c.writeErr, c.writeHold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-c.closed:
			return ErrClosed
		}
	}
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.outbound <- data:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

func (c *Conn) Close() error {
	c.closeCalls.Add(1)
	c.mu.Lock()
	hold := c.closeHold
	c.mu.Unlock()
	if hold != nil {
		<-hold
	}

	c.once.Do(func() { close(c.closed) })
	return nil
}

// CloseCalls returns how many times Close has been entered
func (c *Conn) CloseCalls() int {
	return int(c.closeCalls.Load())
}

// Closed reports whether the connection has been closed by either side
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Inject delivers msg to the server as if the client had sent it
func (c *Conn) Inject(msg []byte) {
	select {
	case c.inbound <- msg:
	case <-c.closed:
	}
}

// Next waits up to timeout for the next message the server wrote
func (c *Conn) Next(timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.outbound:
		return msg, true
	case <-timer.C:
		return nil, false
	}
}

// FailWrites makes every following WriteMessage return err
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// HoldWrites blocks writers until the returned function is called
func (c *Conn) HoldWrites() (release func()) {
	hold := make(chan struct{})
	c.mu.Lock()
	c.writeHold = hold
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.writeHold = nil
			c.mu.Unlock()
			close(hold)
		})
	}
}

// HoldClose blocks Close until the returned function is called, like a
// websocket close waiting behind a stalled write
func (c *Conn) HoldClose() (release func()) {
	hold := make(chan struct{})
	c.mu.Lock()
	c.closeHold = hold
	c.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}
