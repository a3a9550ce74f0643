package transport

import (
	"context"
	"sync"
)

// LocalTransport delivers messages to actors hosted in the same process
type LocalTransport struct {
	mu      sync.RWMutex
	handler Handler
}

// NewLocalTransport creates a transport dispatching to h. h may be nil and set
// later with SetHandler, for registries that own their transport.
func NewLocalTransport(h Handler) *LocalTransport {
	return &LocalTransport{handler: h}
}

// SetHandler replaces the dispatch target
func (t *LocalTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *LocalTransport) Send(ctx context.Context, to Address, payload []byte) ([]byte, error) {
	t.mu.RLock()
	h := t.handler
	t.mu.RUnlock()

	if h == nil {
		return nil, ErrUnknownPeer
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	code, body := h.HandlePeer(ctx, to, payload)
	return checkStatus(code, body)
}
