// Package clients tracks the observer connections of one node actor and fans
// status messages out to them without blocking the actor.
package clients

import (
	"sync"

	"github.com/dd0wney/cluso-raft/pkg/logging"
)

// DefaultOutbox is the number of messages queued per client before it is
// considered too slow and disconnected
const DefaultOutbox = 32

// Client is one connected observer
type Client struct {
	id     uint64
	conn   Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	logger logging.Logger
}

// ID returns the client's identifier, unique within its Manager
func (c *Client) ID() uint64 {
	return c.id
}

// Send queues msg for delivery without blocking. A client whose queue is full
// is disconnected; it reconnects and resynchronises from its Welcome.
func (c *Client) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- msg:
		return true
	default:
		c.logger.Warn("client outbox full, disconnecting")
		c.Close()
		return false
	}
}

// Close stops the writer and closes the connection. Safe to call repeatedly.
// It never blocks: closing a websocket waits for any write in progress, so
// the connection is closed on its own goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		go c.conn.Close()
	})
}

// Done is closed once the client is closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.conn.WriteMessage(msg); err != nil {
				c.logger.Debug("client write failed", logging.Error(err))
				c.Close()
				return
			}
		}
	}
}

// Manager is the client set of one actor
type Manager struct {
	mu      sync.Mutex
	clients map[uint64]*Client
	nextID  uint64
	outbox  int
	logger  logging.Logger
}

// NewManager creates an empty client set
func NewManager(outbox int, logger logging.Logger) *Manager {
	if outbox <= 0 {
		outbox = DefaultOutbox
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		clients: make(map[uint64]*Client),
		outbox:  outbox,
		logger:  logger,
	}
}

// Add registers conn and starts its writer
func (m *Manager) Add(conn Conn) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	c := &Client{
		id:     m.nextID,
		conn:   conn,
		out:    make(chan []byte, m.outbox),
		done:   make(chan struct{}),
		logger: m.logger.With(logging.Uint64("client", m.nextID)),
	}
	m.clients[c.id] = c
	go c.writeLoop()

	return c
}

// Remove closes c and forgets it. It returns the number of clients left and
// whether c was still registered.
func (m *Manager) Remove(c *Client) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.clients[c.id]
	if ok {
		delete(m.clients, c.id)
	}
	c.Close()
	return len(m.clients), ok
}

// Broadcast queues msg for every client except the given one (which may be
// nil) and returns how many clients it was queued for
func (m *Manager) Broadcast(msg []byte, except *Client) int {
	// Snapshot so Send can drop clients without holding the lock
	m.mu.Lock()
	targets := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if c.Send(msg) {
			sent++
		}
	}
	return sent
}

// Len returns the number of registered clients
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// CloseAll disconnects every client
func (m *Manager) CloseAll() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[uint64]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
