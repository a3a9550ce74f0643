// Package transport delivers peer messages to node actors. Transports are
// stateless: they resolve an Address and return the raw reply, nothing more.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dd0wney/cluso-raft/pkg/cluster"
)

// Address identifies one node actor
type Address struct {
	ClusterID string
	NodeID    cluster.NodeID
}

// Key returns the stable registry key for the actor
func (a Address) Key() string {
	return fmt.Sprintf("node:%s:%s", a.ClusterID, a.NodeID)
}

func (a Address) String() string {
	return a.Key()
}

// Transport sends an encoded peer message and returns the encoded reply.
// A non-200 answer is reported as a *StatusError.
type Transport interface {
	Send(ctx context.Context, to Address, payload []byte) ([]byte, error)
}

// Handler processes an inbound peer message for the actor at addr and
// returns an HTTP status code and optional reply body
type Handler interface {
	HandlePeer(ctx context.Context, addr Address, payload []byte) (int, []byte)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, addr Address, payload []byte) (int, []byte)

func (f HandlerFunc) HandlePeer(ctx context.Context, addr Address, payload []byte) (int, []byte) {
	return f(ctx, addr, payload)
}

func checkStatus(code int, body []byte) ([]byte, error) {
	if code != http.StatusOK {
		return nil, &StatusError{Code: code, Body: string(body)}
	}
	return body, nil
}

type deadlineTransport struct {
	next    Transport
	timeout time.Duration
}

// WithDeadline bounds every call made through t. The call is raced against a
// timer; when the timer wins the in-flight call is cancelled and
// ErrDeadlineExceeded is returned without waiting for it to unwind.
func WithDeadline(t Transport, timeout time.Duration) Transport {
	return &deadlineTransport{next: t, timeout: timeout}
}

type sendResult struct {
	reply []byte
	err   error
}

func (d *deadlineTransport) Send(ctx context.Context, to Address, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		reply, err := d.next.Send(ctx, to, payload)
		done <- sendResult{reply: reply, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.reply, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrDeadlineExceeded, to, d.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result is the outcome of one call of a broadcast
type Result struct {
	To    Address
	Reply []byte
	Err   error
}

// Broadcast sends payload to every address in parallel and waits for all of
// them to reply, fail or time out. Results are in the order of to.
func Broadcast(ctx context.Context, t Transport, to []Address, payload []byte) []Result {
	results := make([]Result, len(to))

	var wg sync.WaitGroup
	for i, addr := range to {
		wg.Add(1)
		go func(i int, addr Address) {
			defer wg.Done()
			reply, err := t.Send(ctx, addr, payload)
			results[i] = Result{To: addr, Reply: reply, Err: err}
		}(i, addr)
	}
	wg.Wait()

	return results
}
