package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
	"github.com/dd0wney/cluso-raft/pkg/logging"
	"github.com/dd0wney/cluso-raft/pkg/rpc"
)

// NNGTransport delivers messages as rpc.Envelope over REQ sockets, one socket
// per peer address and one socket context per call
type NNGTransport struct {
	factory SocketFactory
	peers   map[cluster.NodeID]string
	secret  string

	mu      sync.Mutex
	sockets map[string]Socket
	closed  bool
}

// NewNNGTransport creates a transport for the given peer NNG addresses
func NewNNGTransport(factory SocketFactory, peers map[cluster.NodeID]string, secret string) *NNGTransport {
	return &NNGTransport{
		factory: factory,
		peers:   peers,
		secret:  secret,
		sockets: make(map[string]Socket),
	}
}

func (t *NNGTransport) socket(addr string) (Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if s, ok := t.sockets[addr]; ok {
		return s, nil
	}

	s, err := t.factory.NewReqSocket()
	if err != nil {
		return nil, fmt.Errorf("create req socket: %w", err)
	}
	if err := s.Dial(addr); err != nil {
		s.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	t.sockets[addr] = s
	return s, nil
}

func (t *NNGTransport) Send(ctx context.Context, to Address, payload []byte) ([]byte, error) {
	addr, ok := t.peers[to.NodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, to.NodeID)
	}

	sock, err := t.socket(addr)
	if err != nil {
		return nil, err
	}

	sc, err := sock.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("open context: %w", err)
	}

	// Closing the context aborts a pending Recv
	stop := context.AfterFunc(ctx, func() { sc.Close() })
	defer func() {
		if stop() {
			sc.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		d := time.Until(deadline)
		sc.SetSendDeadline(d)
		sc.SetRecvDeadline(d)
	}

	env, err := rpc.Encode(rpc.Envelope{
		ClusterID:     to.ClusterID,
		NodeID:        to.NodeID,
		Authorization: t.secret,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}

	if err := sc.Send(env); err != nil {
		return nil, wrapCtx(ctx, err)
	}
	raw, err := sc.Recv()
	if err != nil {
		return nil, wrapCtx(ctx, err)
	}

	reply, err := rpc.DecodeEnvelopeReply(raw)
	if err != nil {
		return nil, err
	}
	return checkStatus(reply.Code, reply.Payload)
}

func wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Close closes every peer socket
func (t *NNGTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	var errs []error
	for addr, s := range t.sockets {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	t.sockets = nil
	return errors.Join(errs...)
}

// NNGListener answers envelopes arriving on a REP socket
type NNGListener struct {
	socket  Socket
	handler Handler
	secret  string
	workers int
	timeout time.Duration
	logger  logging.Logger
}

// NNGListenerConfig configures the listener
type NNGListenerConfig struct {
	Address string
	Secret  string
	Workers int           // Concurrent exchanges (default: 4)
	Timeout time.Duration // Per-exchange handler deadline (default: 2s)
}

// NewNNGListener binds a REP socket on cfg.Address
func NewNNGListener(factory SocketFactory, cfg NNGListenerConfig, h Handler, logger logging.Logger) (*NNGListener, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	sock, err := factory.NewRepSocket()
	if err != nil {
		return nil, fmt.Errorf("create rep socket: %w", err)
	}
	if err := sock.Listen(cfg.Address); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}

	return &NNGListener{
		socket:  sock,
		handler: h,
		secret:  cfg.Secret,
		workers: cfg.Workers,
		timeout: cfg.Timeout,
		logger:  logger.With(logging.Component("nng-listener"), logging.String("addr", cfg.Address)),
	}, nil
}

// Serve answers requests until ctx is cancelled, then closes the socket
func (l *NNGListener) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < l.workers; i++ {
		sc, err := l.socket.OpenContext()
		if err != nil {
			l.socket.Close()
			wg.Wait()
			return fmt.Errorf("open context: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.work(ctx, sc)
		}()
	}

	l.logger.Info("NNG peer listener started", logging.Int("workers", l.workers))
	<-ctx.Done()
	err := l.socket.Close()
	wg.Wait()
	l.logger.Info("NNG peer listener stopped")
	return err
}

func (l *NNGListener) work(ctx context.Context, sc SocketContext) {
	defer sc.Close()

	for {
		raw, err := sc.Recv()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Debug("receive failed", logging.Error(err))
			}
			return
		}

		reply := l.answer(ctx, raw)
		out, err := rpc.Encode(reply)
		if err != nil {
			l.logger.Error("encode reply failed", logging.Error(err))
			continue
		}
		if err := sc.Send(out); err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Debug("send failed", logging.Error(err))
		}
	}
}

func (l *NNGListener) answer(ctx context.Context, raw []byte) rpc.EnvelopeReply {
	env, err := rpc.DecodeEnvelope(raw)
	if err != nil {
		return rpc.EnvelopeReply{Code: http.StatusBadRequest, Payload: []byte(err.Error())}
	}
	if !SecretsEqual(env.Authorization, l.secret) {
		return rpc.EnvelopeReply{Code: http.StatusForbidden}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	code, body := l.handler.HandlePeer(ctx, Address{ClusterID: env.ClusterID, NodeID: env.NodeID}, env.Payload)
	return rpc.EnvelopeReply{Code: code, Payload: body}
}
