package transport

import (
	"io"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// Socket is a messaging socket that serves many concurrent exchanges, one
// per context. It abstracts mangos so tests can substitute their own.
type Socket interface {
	io.Closer
	Listen(addr string) error
	Dial(addr string) error
	OpenContext() (SocketContext, error)
}

// SocketContext is one request/reply exchange on a Socket
type SocketContext interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// SocketFactory creates sockets for the request/reply pattern
type SocketFactory interface {
	NewReqSocket() (Socket, error)
	NewRepSocket() (Socket, error)
}

type nngSocket struct {
	sock mangos.Socket
}

func (s *nngSocket) Close() error {
	return s.sock.Close()
}

func (s *nngSocket) Listen(addr string) error {
	return s.sock.Listen(addr)
}

// Dial connects in the background so an unreachable peer surfaces as a
// deadline on the first exchange rather than an error here
func (s *nngSocket) Dial(addr string) error {
	return s.sock.DialOptions(addr, map[string]any{mangos.OptionDialAsynch: true})
}

func (s *nngSocket) OpenContext() (SocketContext, error) {
	ctx, err := s.sock.OpenContext()
	if err != nil {
		return nil, err
	}
	return &nngContext{ctx: ctx}, nil
}

type nngContext struct {
	ctx mangos.Context
}

func (c *nngContext) Close() error {
	return c.ctx.Close()
}

func (c *nngContext) Send(data []byte) error {
	return c.ctx.Send(data)
}

func (c *nngContext) Recv() ([]byte, error) {
	return c.ctx.Recv()
}

func (c *nngContext) SetRecvDeadline(d time.Duration) error {
	return c.ctx.SetOption(mangos.OptionRecvDeadline, d)
}

func (c *nngContext) SetSendDeadline(d time.Duration) error {
	return c.ctx.SetOption(mangos.OptionSendDeadline, d)
}

// NNGSocketFactory creates NNG/mangos sockets
type NNGSocketFactory struct{}

// NewNNGSocketFactory creates a new NNG socket factory
func NewNNGSocketFactory() *NNGSocketFactory {
	return &NNGSocketFactory{}
}

func (f *NNGSocketFactory) NewReqSocket() (Socket, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}

func (f *NNGSocketFactory) NewRepSocket() (Socket, error) {
	sock, err := rep.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}

// Ensure NNGSocketFactory implements SocketFactory
var _ SocketFactory = (*NNGSocketFactory)(nil)
